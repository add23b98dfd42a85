package gateway

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// GasRecord mirrors the teacher's TransactionRecord: every on-chain call
// this adapter makes accumulates one of these so callers can audit gas
// spend the same way blackhole.go's Mint/Stake/Unstake methods do.
type GasRecord struct {
	TxHash    common.Hash
	GasUsed   uint64
	GasPrice  *big.Int
	GasCost   *big.Int
	Timestamp time.Time
	Operation string
}

// OnChainAdapter settles orders as signed on-chain calls against a single
// settlement contract, instead of an exchange REST API. It exercises the
// go-ethereum stack (ecdsa signing, common.Address/big.Int amounts, gas
// accounting) the way blackhole.go's Swap/ensureApproval does, generalised
// from a DEX router call to a generic "place order" settlement call. This
// is an illustrative adapter demonstrating the trait against an on-chain
// venue shape; it is not a specific exchange integration (those are out of
// scope per spec.md §1).
type OnChainAdapter struct {
	mu sync.Mutex

	name       string
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	fromAddr   common.Address
	chainID    *big.Int

	settlement    common.Address
	settlementABI abi.ABI

	waiter   *TxWaiter
	gasSpent []GasRecord

	// unitScale converts a float SizeUnits into the integer on-chain
	// representation (analogous to token decimals), e.g. 1e18 for
	// 18-decimal notional accounting.
	unitScale *big.Float
}

// OnChainAdapterConfig configures an OnChainAdapter.
type OnChainAdapterConfig struct {
	Name           string
	Client         *ethclient.Client
	PrivateKeyHex  string
	ChainID        *big.Int
	Settlement     common.Address
	SettlementABI  abi.ABI
	UnitScale      *big.Float // default 1e18
	Waiter         *TxWaiter
}

// NewOnChainAdapter builds an OnChainAdapter, deriving the signer address
// from the private key the same way cmd/main.go decrypts and loads one.
func NewOnChainAdapter(cfg OnChainAdapterConfig) (*OnChainAdapter, error) {
	privateKey, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("onchain adapter: parse private key: %w", err)
	}
	pub, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("onchain adapter: could not derive public key")
	}

	scale := cfg.UnitScale
	if scale == nil {
		scale = new(big.Float).SetInt64(1_000_000_000_000_000_000)
	}
	name := cfg.Name
	if name == "" {
		name = "onchain"
	}

	return &OnChainAdapter{
		name:          name,
		client:        cfg.Client,
		privateKey:    privateKey,
		fromAddr:      crypto.PubkeyToAddress(*pub),
		chainID:       cfg.ChainID,
		settlement:    cfg.Settlement,
		settlementABI: cfg.SettlementABI,
		waiter:        cfg.Waiter,
		unitScale:     scale,
	}, nil
}

func (a *OnChainAdapter) Name() string { return a.name }

// SendOrder packs and sends a signed "placeOrder" call against the
// settlement contract, waits for the receipt, and records gas spend.
func (a *OnChainAdapter) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	sizeWei, _ := new(big.Float).Mul(big.NewFloat(req.SizeUnits), a.unitScale).Int(nil)
	priceWei, _ := new(big.Float).Mul(big.NewFloat(req.LimitPrice), a.unitScale).Int(nil)
	isBuy := req.Side == "BUY"

	data, err := a.settlementABI.Pack("placeOrder", req.Symbol, isBuy, sizeWei, priceWei, req.ReduceOnly)
	if err != nil {
		return OrderResult{}, fmt.Errorf("onchain adapter: pack placeOrder: %w", err)
	}

	txHash, err := a.sendSigned(ctx, data, "placeOrder")
	if err != nil {
		return OrderResult{Success: false, Status: "REJECTED", Error: err.Error()}, nil
	}

	receipt, err := a.waiter.WaitForTransaction(ctx, txHash)
	if err != nil {
		return OrderResult{Success: false, Status: "REJECTED", Error: err.Error()}, nil
	}
	a.recordGas(receipt, txHash, "placeOrder")

	if receipt.Status != types.ReceiptStatusSuccessful {
		return OrderResult{Success: false, BrokerOrderID: txHash.Hex(), Status: "REJECTED", Error: "reverted"}, nil
	}

	return OrderResult{
		Success:       true,
		Symbol:        req.Symbol,
		BrokerOrderID: txHash.Hex(),
		FillPrice:     req.LimitPrice,
		FillSize:      req.SizeUnits,
		Status:        "FILLED",
	}, nil
}

func (a *OnChainAdapter) sendSigned(ctx context.Context, data []byte, op string) (common.Hash, error) {
	nonce, err := a.client.PendingNonceAt(ctx, a.fromAddr)
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain adapter: nonce: %w", err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain adapter: gas price: %w", err)
	}
	gasLimit, err := a.client.EstimateGas(ctx, ethereum.CallMsg{
		From: a.fromAddr,
		To:   &a.settlement,
		Data: data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain adapter: estimate gas (%s): %w", op, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &a.settlement,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("onchain adapter: sign tx: %w", err)
	}
	if err := a.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("onchain adapter: send tx: %w", err)
	}
	return signed.Hash(), nil
}

func (a *OnChainAdapter) recordGas(receipt *types.Receipt, txHash common.Hash, op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	gasCost := new(big.Int).Mul(big.NewInt(int64(receipt.GasUsed)), receipt.EffectiveGasPrice)
	a.gasSpent = append(a.gasSpent, GasRecord{
		TxHash:    txHash,
		GasUsed:   receipt.GasUsed,
		GasPrice:  receipt.EffectiveGasPrice,
		GasCost:   gasCost,
		Timestamp: time.Now(),
		Operation: op,
	})
}

// GasSpent returns a copy of every recorded gas expenditure, for audit.
func (a *OnChainAdapter) GasSpent() []GasRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]GasRecord, len(a.gasSpent))
	copy(out, a.gasSpent)
	return out
}

func (a *OnChainAdapter) GetAccount(ctx context.Context) (AccountInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	balance, err := a.client.BalanceAt(ctx, a.fromAddr, nil)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("onchain adapter: balance: %w", err)
	}
	equity, _ := new(big.Float).Quo(new(big.Float).SetInt(balance), a.unitScale).Float64()
	return AccountInfo{EquityUSD: equity, AvailableUSD: equity}, nil
}

// GetPositions returns no positions: unlike a CEX REST venue this
// settlement contract reports fills only through transaction receipts and
// events (the same reconciliation gap blackhole.go's Mint/Stake handled by
// parsing the receipt's Transfer event rather than polling a getter), so
// position truth here is whatever the Ledger has reconstructed from
// confirmed fills.
func (a *OnChainAdapter) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	return nil, nil
}

func (a *OnChainAdapter) ClosePosition(ctx context.Context, symbol string) (OrderResult, error) {
	return a.SendOrder(ctx, OrderRequest{
		Symbol:     symbol,
		Side:       "SELL",
		ReduceOnly: true,
	})
}

func (a *OnChainAdapter) CloseAllPositions(ctx context.Context) ([]OrderResult, error) {
	// The adapter itself does not track open symbols (see GetPositions), so
	// nothing is closed here and no results are returned; the Gateway
	// passes CloseAllPositions straight through to this method.
	return nil, nil
}

func (a *OnChainAdapter) CancelOrder(ctx context.Context, orderID string) error {
	return fmt.Errorf("onchain adapter: orders settle atomically on-chain, nothing to cancel")
}

func (a *OnChainAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	if _, err := a.client.BlockNumber(ctx); err != nil {
		return HealthResult{Success: false, Error: err.Error()}, nil
	}
	return HealthResult{Success: true}, nil
}
