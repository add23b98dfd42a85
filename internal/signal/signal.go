// Package signal holds the wire and domain types shared across the
// execution core: the incoming PREPARE/CONFIRM/ABORT envelope, the
// planner's prepared intents, positions, fills and closed-trade records.
package signal

import "time"

// Kind is the three-phase signal type.
type Kind string

const (
	KindPrepare Kind = "PREPARE"
	KindConfirm Kind = "CONFIRM"
	KindAbort   Kind = "ABORT"
)

// Direction is a position's side.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// OrderType is the execution style chosen by the planner.
type OrderType string

const (
	OrderMarket   OrderType = "MARKET"
	OrderLimit    OrderType = "LIMIT"
	OrderPostOnly OrderType = "POST_ONLY"
)

// ExitReason enumerates why a position closed.
type ExitReason string

const (
	ExitTakeProfit           ExitReason = "TAKE_PROFIT"
	ExitStopLoss             ExitReason = "STOP_LOSS"
	ExitManual               ExitReason = "MANUAL"
	ExitSafetyStop           ExitReason = "SAFETY_STOP"
	ExitFlashCrashProtection ExitReason = "FLASH_CRASH_PROTECTION"
	ExitAbort                ExitReason = "ABORT"
)

// Signal is the unit transported on the fast path. CONFIRM/ABORT messages
// only populate SignalID, Kind, Symbol and TimestampMs.
type Signal struct {
	SignalID      string      `json:"signal_id"`
	Kind          Kind        `json:"kind"`
	Symbol        string      `json:"symbol"`
	Direction     Direction   `json:"direction,omitempty"`
	EntryZoneLo   float64     `json:"entry_zone_lo,omitempty"`
	EntryZoneHi   float64     `json:"entry_zone_hi,omitempty"`
	StopLoss      float64     `json:"stop_loss,omitempty"`
	TakeProfits   []float64   `json:"take_profits,omitempty"`
	Confidence    float64     `json:"confidence,omitempty"` // 0..100
	Leverage      float64     `json:"leverage,omitempty"`   // >= 1
	Velocity      float64     `json:"velocity,omitempty"`   // fractional price move per second
	TrapType      string      `json:"trap_type,omitempty"`
	TimestampMs   int64       `json:"timestamp"`
}

// Fingerprint returns the (signal_id, kind) key the replay guard keys on.
func (s Signal) Fingerprint() string {
	return string(s.Kind) + "|" + s.SignalID
}

// MarketSnapshot is the pre-fetched L2 top-of-book used for sizing and
// liquidity re-validation.
type MarketSnapshot struct {
	Symbol   string
	BestBid  float64
	BestAsk  float64
	Spread   float64
	DepthBid float64
	DepthAsk float64
	AsOf     time.Time
}

// PreparedIntent is materialised by the planner on PREPARE and held until
// CONFIRM, ABORT or expiry.
type PreparedIntent struct {
	Signal          Signal
	PositionSizeUSD float64
	OrderType       OrderType
	LimitPrice      float64
	HasLimitPrice   bool
	MarketSnapshot  MarketSnapshot
	PreparedAtMono  int64 // monotonic milliseconds
}

// Expired reports whether ttl has elapsed since PreparedAtMono, as of nowMono.
func (p PreparedIntent) Expired(nowMono int64, ttl time.Duration) bool {
	return nowMono-p.PreparedAtMono > ttl.Milliseconds()
}

// Fill is a single execution against a position.
type Fill struct {
	FillID    string
	Price     float64
	Qty       float64 // signed: positive adds to the position direction, negative reduces it
	Fee       float64
	Timestamp time.Time
}

// FillState drives the partial-fill chase/cancel decision for the order
// window following a CONFIRM.
type FillState string

const (
	FillRequested FillState = "REQUESTED"
	FillPartial   FillState = "PARTIAL"
	FillChasing   FillState = "CHASING"
	FillComplete  FillState = "COMPLETE"
	FillCancelled FillState = "CANCELLED"
)

// Position is the per-symbol shadow-state record. At most one Position may
// exist per symbol at any time.
type Position struct {
	Symbol         string
	Side           Direction
	SizeUnits      float64
	EntryPrice     float64
	NotionalUSD    float64
	UnrealizedPnL  float64
	Fills          []Fill
	StopLoss       float64
	TakeProfits    []float64
	OpenedAt       time.Time

	// Order-window bookkeeping for the chase/cancel state machine.
	RequestedUnits float64
	FillState      FillState
	OrderOpenedAt  time.Time
}

// TradeRecord is emitted exactly once when a Position closes.
type TradeRecord struct {
	Symbol     string
	Direction  Direction
	EntryPrice float64
	ExitPrice  float64
	PnLUSD     float64
	PnLPct     float64
	DurationMs int64
	ExitReason ExitReason
	ClosedAt   time.Time
}

// EquitySnapshot is a point sample of total account equity.
type EquitySnapshot struct {
	EquityUSD   float64
	TimestampMs int64
}
