// Package planner implements the Handler/Planner (C2): it materialises
// PreparedIntents, decides order type and size, re-validates liquidity at
// CONFIRM, submits to the Venue Gateway, and drives the Shadow-State
// Ledger. It holds direct references to its collaborators (spec.md §9:
// "direct composition... no shared base class").
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/gateway"
	"github.com/kaelstrom/tradecore/internal/ledger"
	"github.com/kaelstrom/tradecore/internal/replayguard"
	"github.com/kaelstrom/tradecore/internal/safety"
	"github.com/kaelstrom/tradecore/internal/signal"
	"github.com/kaelstrom/tradecore/internal/sizing"
)

// PrepareTTL is the window within which a PREPARE'd intent may be
// CONFIRMed, per spec.md §3.
const PrepareTTL = 10 * time.Second

// L2Source fetches the current order-book snapshot for a symbol. Returns
// ok=false if no snapshot is available (NO_L2_DATA).
type L2Source interface {
	Snapshot(symbol string) (signal.MarketSnapshot, bool)
}

// EquitySource reports current account equity for Kelly sizing and safety
// consultation.
type EquitySource interface {
	EquityUSD() float64
}

// SizingConfig holds the runtime-adjustable sizing inputs from spec.md §6.
type SizingConfig struct {
	RiskPct        float64
	MaxPositionPct float64
	Velocity       sizing.VelocityThresholds
}

// DefaultSizingConfig gives the scenario-1 values from spec.md §8.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{RiskPct: 0.02, MaxPositionPct: 0.5, Velocity: sizing.DefaultVelocityThresholds()}
}

// PrepareResult is the structured PREPARE response, spec.md §4.2.
type PrepareResult struct {
	Status       string           `json:"status"` // "prepared" | "blocked" | "rejected"
	Reason       string           `json:"reason,omitempty"`
	PositionSize float64          `json:"position_size,omitempty"`
	OrderType    signal.OrderType `json:"order_type,omitempty"`
	HasL2Data    bool             `json:"has_l2_data,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// ConfirmResult is the structured CONFIRM response, spec.md §4.2.
type ConfirmResult struct {
	Executed  bool    `json:"executed"`
	FillPrice float64 `json:"fill_price,omitempty"`
	FillSize  float64 `json:"fill_size,omitempty"`
	Status    string  `json:"status,omitempty"` // "rejected" | "blocked" when Executed is false
	Reason    string  `json:"reason,omitempty"`
}

// TelemetryEvent is emitted for trap_prepared/trap_sprung/trap_aborted per
// spec.md §4.2; the Planner owns no telemetry shipping (out of scope), it
// only calls this hook.
type TelemetryEvent struct {
	Name     string
	SignalID string
	Symbol   string
}

// Planner wires the Ledger, Replay Guard, Safety Envelope and Venue
// Gateway into the PREPARE/CONFIRM/ABORT contracts.
type Planner struct {
	clock   clock.Clock
	ledger  *ledger.Ledger
	guard   *replayguard.Guard
	safety  *safety.Envelope
	gateway *gateway.Gateway
	l2      L2Source
	equity  EquitySource
	cfg     SizingConfig

	onTelemetry func(TelemetryEvent)
}

// New builds a Planner from its collaborators.
func New(
	c clock.Clock,
	l *ledger.Ledger,
	guard *replayguard.Guard,
	envelope *safety.Envelope,
	gw *gateway.Gateway,
	l2 L2Source,
	equity EquitySource,
	cfg SizingConfig,
	onTelemetry func(TelemetryEvent),
) *Planner {
	return &Planner{clock: c, ledger: l, guard: guard, safety: envelope, gateway: gw, l2: l2, equity: equity, cfg: cfg, onTelemetry: onTelemetry}
}

func (p *Planner) emit(event TelemetryEvent) {
	if p.onTelemetry != nil {
		p.onTelemetry(event)
	}
}

// Prepare implements the PREPARE contract (spec.md §4.2).
func (p *Planner) Prepare(sig signal.Signal) PrepareResult {
	outcome, echo := p.guard.Register(sig.Fingerprint())
	if outcome == replayguard.Duplicate {
		if res, ok := echo.(PrepareResult); ok {
			return res
		}
		return PrepareResult{Status: "duplicate"}
	}

	p.ledger.ProcessIntent(signal.PreparedIntent{Signal: sig, PreparedAtMono: p.clock.Monotonic()})

	equity := p.equity.EquityUSD()
	decision := p.safety.Consult(equity)
	if decision.Blocked {
		_ = p.ledger.RejectIntent(sig.SignalID, decision.Reason)
		result := PrepareResult{Status: "blocked", Reason: decision.Reason}
		p.guard.SetEcho(sig.Fingerprint(), result)
		return result
	}

	snap, ok := p.l2.Snapshot(sig.Symbol)
	if !ok {
		_ = p.ledger.RejectIntent(sig.SignalID, "NO_L2_DATA")
		result := PrepareResult{Status: "rejected", Reason: "NO_L2_DATA"}
		p.guard.SetEcho(sig.Fingerprint(), result)
		return result
	}

	positionSize := sizing.PositionSizeUSD(equity, p.cfg.RiskPct, sig.Confidence, sig.Leverage, p.cfg.MaxPositionPct)
	if decision.SizeMultiplier > 0 {
		positionSize *= decision.SizeMultiplier
	}
	orderDecision := sizing.ChooseOrderType(sig.Velocity, sig.Direction, snap, p.cfg.Velocity)

	intent := signal.PreparedIntent{
		Signal:          sig,
		PositionSizeUSD: positionSize,
		OrderType:       orderDecision.OrderType,
		LimitPrice:      orderDecision.LimitPrice,
		HasLimitPrice:   orderDecision.OrderType != signal.OrderMarket,
		MarketSnapshot:  snap,
		PreparedAtMono:  p.clock.Monotonic(),
	}
	p.ledger.ProcessIntent(intent)
	_ = p.ledger.ValidateIntent(sig.SignalID)

	p.emit(TelemetryEvent{Name: "trap_prepared", SignalID: sig.SignalID, Symbol: sig.Symbol})

	result := PrepareResult{
		Status:       "prepared",
		PositionSize: positionSize,
		OrderType:    orderDecision.OrderType,
		HasL2Data:    true,
	}
	p.guard.SetEcho(sig.Fingerprint(), result)
	return result
}

// Confirm implements the CONFIRM contract (spec.md §4.2).
func (p *Planner) Confirm(ctx context.Context, sig signal.Signal) ConfirmResult {
	fp := (signal.Signal{SignalID: sig.SignalID, Kind: signal.KindConfirm}).Fingerprint()
	outcome, echo := p.guard.Register(fp)
	if outcome == replayguard.Duplicate {
		if res, ok := echo.(ConfirmResult); ok {
			return res
		}
		return ConfirmResult{Status: "rejected", Reason: "duplicate"}
	}

	intent, ok := p.ledger.GetIntent(sig.SignalID)
	if !ok {
		result := ConfirmResult{Status: "rejected", Reason: "PREPARE_NOT_FOUND"}
		p.guard.SetEcho(fp, result)
		return result
	}

	if intent.Expired(p.clock.Monotonic(), PrepareTTL) {
		p.ledger.DropIntent(sig.SignalID)
		result := ConfirmResult{Status: "rejected", Reason: "STALE_SIGNAL"}
		p.guard.SetEcho(fp, result)
		return result
	}

	snapshot := p.safety.Snapshot()
	if !snapshot.Armed {
		result := ConfirmResult{Status: "blocked", Reason: safety.ReasonExecutionDisabled}
		p.guard.SetEcho(fp, result)
		return result
	}

	snap, ok := p.l2.Snapshot(intent.Signal.Symbol)
	if !ok {
		result := ConfirmResult{Status: "rejected", Reason: "INSUFFICIENT_LIQUIDITY"}
		p.guard.SetEcho(fp, result)
		return result
	}

	side := "BUY"
	availableDepth := snap.DepthAsk
	if intent.Signal.Direction == signal.Short {
		side = "SELL"
		availableDepth = snap.DepthBid
	}

	sizeUnits := intent.PositionSizeUSD / nonZero(intent.LimitPrice, snap.BestAsk)
	if availableDepth < sizeUnits {
		result := ConfirmResult{Status: "rejected", Reason: "INSUFFICIENT_LIQUIDITY"}
		p.guard.SetEcho(fp, result)
		return result
	}

	orderResult, err := p.gateway.SendOrder(ctx, gateway.OrderRequest{
		Symbol:        intent.Signal.Symbol,
		Side:          side,
		SizeUnits:     sizeUnits,
		OrderType:     string(intent.OrderType),
		LimitPrice:    intent.LimitPrice,
		HasLimitPrice: intent.HasLimitPrice,
		ClientOrderID: intent.Signal.SignalID,
	})
	if err != nil || !orderResult.Success {
		reason := "ORDER_REJECTED"
		if err != nil {
			reason = err.Error()
		} else if orderResult.Error != "" {
			reason = orderResult.Error
		}
		p.ledger.DropIntent(sig.SignalID)
		result := ConfirmResult{Status: "rejected", Reason: reason}
		p.guard.SetEcho(fp, result)
		return result
	}

	_, err = p.ledger.ConfirmExecution(sig.SignalID, orderResult.FillPrice, orderResult.FillSize)
	if err != nil {
		result := ConfirmResult{Status: "rejected", Reason: fmt.Sprintf("LEDGER_ERROR: %v", err)}
		p.guard.SetEcho(fp, result)
		return result
	}

	p.emit(TelemetryEvent{Name: "trap_sprung", SignalID: sig.SignalID, Symbol: intent.Signal.Symbol})

	result := ConfirmResult{Executed: true, FillPrice: orderResult.FillPrice, FillSize: orderResult.FillSize}
	p.guard.SetEcho(fp, result)
	return result
}

// Abort implements the ABORT contract (spec.md §4.2). It always returns a
// successful "aborted" acknowledgement.
func (p *Planner) Abort(sig signal.Signal) map[string]any {
	_ = p.ledger.RejectIntent(sig.SignalID, "Signal aborted")
	p.ledger.DropIntent(sig.SignalID)
	p.emit(TelemetryEvent{Name: "trap_aborted", SignalID: sig.SignalID, Symbol: sig.Symbol})
	return map[string]any{"status": "aborted"}
}

// SweepStaleIntents is the periodic task from spec.md §4.2 (>=1Hz);
// callers schedule this with a ticker.
func (p *Planner) SweepStaleIntents() []string {
	stale := p.ledger.SweepStale(PrepareTTL)
	for _, id := range stale {
		_ = p.ledger.RejectIntent(id, "STALE_INTENT_CLEANUP")
	}
	return stale
}

func nonZero(primary, fallback float64) float64 {
	if primary != 0 {
		return primary
	}
	return fallback
}
