package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrTxTimeout is returned when a transaction's receipt does not appear
// within the configured timeout.
var ErrTxTimeout = errors.New("gateway: transaction confirmation timed out")

// TxWaiterOption configures a TxWaiter.
type TxWaiterOption func(*TxWaiter)

// WithPollInterval sets how often the waiter polls for a receipt.
func WithPollInterval(d time.Duration) TxWaiterOption {
	return func(w *TxWaiter) { w.pollInterval = d }
}

// WithTimeout bounds how long WaitForTransaction will poll before giving up.
func WithTimeout(d time.Duration) TxWaiterOption {
	return func(w *TxWaiter) { w.timeout = d }
}

// TxWaiter polls an Ethereum-compatible client for a transaction receipt.
// The teacher repo's cmd/main.go wires an equivalent (its own
// blackholego/pkg/txlistener.TxListener, constructed the same way via
// functional options and exposing WaitForTransaction) but that package's
// source was not retrieved into this corpus, so only its call-site shape
// survives here; this is a from-scratch poller built to the same contract.
type TxWaiter struct {
	client       *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// NewTxWaiter builds a TxWaiter with sensible defaults (3s poll, 5m timeout)
// overridable via options.
func NewTxWaiter(client *ethclient.Client, opts ...TxWaiterOption) *TxWaiter {
	w := &TxWaiter{
		client:       client,
		pollInterval: 3 * time.Second,
		timeout:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WaitForTransaction blocks until txHash is mined or the configured timeout
// elapses, bounded additionally by ctx.
func (w *TxWaiter) WaitForTransaction(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := w.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrTxTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}
