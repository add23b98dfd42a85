// Package gateway implements the Venue Gateway and Adapter Contract (C5):
// a single abstract trait over heterogeneous exchange adapters, plus the
// gateway wrapper that persists a signed-order log, rate-limits outbound
// calls, and selects an adapter at startup.
package gateway

import (
	"context"
	"time"
)

// OrderRequest is the normalised order intent handed to an adapter.
type OrderRequest struct {
	Symbol        string
	Side          string // "BUY" or "SELL"
	SizeUnits     float64
	OrderType     string // "MARKET", "LIMIT", "POST_ONLY"
	LimitPrice    float64
	HasLimitPrice bool
	ReduceOnly    bool
	PostOnly      bool
	ClientOrderID string
}

// OrderResult is the adapter's normalised response to send_order.
type OrderResult struct {
	Success       bool
	Symbol        string
	BrokerOrderID string
	FillPrice     float64
	FillSize      float64
	Status        string // "FILLED", "PARTIAL", "OPEN", "REJECTED"
	Error         string
}

// AccountInfo is the normalised response to get_account.
type AccountInfo struct {
	EquityUSD       float64
	AvailableUSD    float64
	UnrealizedPnL   float64
}

// VenuePosition is the normalised per-symbol position an adapter reports.
type VenuePosition struct {
	Symbol        string
	Side          string
	SizeUnits     float64
	EntryPrice    float64
	UnrealizedPnL float64
	Leverage      float64
}

// HealthResult is the adapter's self-check outcome.
type HealthResult struct {
	Success bool
	Error   string
}

// Adapter abstracts over any venue: a primary exchange, a secondary
// exchange, an on-chain settlement venue, or a mock. Exactly the
// operations spec.md §4.5 names, nothing more.
type Adapter interface {
	Name() string
	SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetAccount(ctx context.Context) (AccountInfo, error)
	GetPositions(ctx context.Context) ([]VenuePosition, error)
	ClosePosition(ctx context.Context, symbol string) (OrderResult, error)
	CloseAllPositions(ctx context.Context) ([]OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	HealthCheck(ctx context.Context) (HealthResult, error)
}

// DefaultCallTimeout bounds every adapter HTTP/RPC call, per spec.md §4.5 -
// the only unbounded suspension points in the system must be timeout-bound.
const DefaultCallTimeout = 10 * time.Second
