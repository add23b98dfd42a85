// Package safety implements the Safety Envelope (C6): master arm,
// consecutive-loss circuit breaker, daily/weekly drawdown gates and the
// operator commands that mutate them. All state here is owned exclusively
// by the Envelope; external observers only ever see snapshots, per
// spec.md §9.
package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/signal"
)

// CircuitState is the consecutive-loss circuit breaker's state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitTripped  CircuitState = "TRIPPED"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Reject reasons reserved by spec.md §6/§7; callers match on these
// strings, so they must stay stable across releases.
const (
	ReasonExecutionDisabled   = "EXECUTION_DISABLED_BY_OPERATOR"
	ReasonCircuitBreakerOpen  = "CIRCUIT_BREAKER_OPEN"
	ReasonDailyDrawdown       = "DAILY_DRAWDOWN_EXCEEDED"
	ReasonWeeklyDrawdown      = "WEEKLY_DRAWDOWN_EXCEEDED"
)

// Config holds the Envelope's tunable thresholds. New copies it; the
// Envelope has no method to replace it afterwards.
type Config struct {
	NLoss             int           // consecutive losses before trip, default 3
	CooldownDuration  time.Duration // default 4h
	DailyDrawdownPct  float64       // default 0.05
	WeeklyDrawdownPct float64       // default 0.10
}

// DefaultConfig matches spec.md's literal defaults.
func DefaultConfig() Config {
	return Config{
		NLoss:             3,
		CooldownDuration:  4 * time.Hour,
		DailyDrawdownPct:  0.05,
		WeeklyDrawdownPct: 0.10,
	}
}

// PositionCloser is the subset of the Shadow-State Ledger the Envelope
// needs to reconcile after a flatten.
type PositionCloser interface {
	CloseAllPositions(priceLookup func(symbol string) float64, reason signal.ExitReason) ([]signal.TradeRecord, error)
}

// Decision is the outcome of consulting the Envelope at PREPARE time.
type Decision struct {
	Blocked        bool
	Reason         string
	SizeMultiplier float64 // in [0,1]; 0 is equivalent to Blocked
}

// Envelope is the single-writer owner of all safety state.
type Envelope struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   Config

	armed bool

	circuitState      CircuitState
	consecutiveLosses int
	trippedAt         time.Time

	equityHistory []signal.EquitySnapshot // bounded to 7 days for the weekly gate
}

// New builds an Envelope. Armed defaults to false: an operator must
// explicitly arm() before any signal is accepted.
func New(c clock.Clock, cfg Config) *Envelope {
	return &Envelope{
		clock:        c,
		cfg:          cfg,
		armed:        false,
		circuitState: CircuitClosed,
	}
}

// Consult evaluates the gates in the order spec.md §4.6 fixes: master arm,
// circuit breaker, daily drawdown, weekly drawdown.
func (e *Envelope) Consult(equity float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.armed {
		return Decision{Blocked: true, Reason: ReasonExecutionDisabled}
	}

	e.maybeHalfOpenLocked()
	if e.circuitState == CircuitTripped {
		return Decision{Blocked: true, Reason: ReasonCircuitBreakerOpen}
	}

	now := e.clock.Now()
	e.recordEquityLocked(equity, now)

	if dd, peak := e.drawdownLocked(now, 24*time.Hour); peak > 0 && dd >= e.cfg.DailyDrawdownPct {
		return Decision{Blocked: true, Reason: ReasonDailyDrawdown}
	}
	if dd, peak := e.drawdownLocked(now, 7*24*time.Hour); peak > 0 && dd >= e.cfg.WeeklyDrawdownPct {
		return Decision{Blocked: true, Reason: ReasonWeeklyDrawdown}
	}

	return Decision{Blocked: false, SizeMultiplier: 1.0}
}

func (e *Envelope) maybeHalfOpenLocked() {
	if e.circuitState == CircuitTripped && e.clock.Now().Sub(e.trippedAt) >= e.cfg.CooldownDuration {
		e.circuitState = CircuitHalfOpen
	}
}

func (e *Envelope) recordEquityLocked(equity float64, now time.Time) {
	e.equityHistory = append(e.equityHistory, signal.EquitySnapshot{EquityUSD: equity, TimestampMs: now.UnixMilli()})
	cutoff := now.Add(-7 * 24 * time.Hour).UnixMilli()
	i := 0
	for ; i < len(e.equityHistory); i++ {
		if e.equityHistory[i].TimestampMs >= cutoff {
			break
		}
	}
	e.equityHistory = e.equityHistory[i:]
}

// drawdownLocked returns (drawdown fraction, peak) over the trailing
// window ending at now.
func (e *Envelope) drawdownLocked(now time.Time, window time.Duration) (float64, float64) {
	cutoff := now.Add(-window).UnixMilli()
	var peak, latest float64
	for _, snap := range e.equityHistory {
		if snap.TimestampMs < cutoff {
			continue
		}
		if snap.EquityUSD > peak {
			peak = snap.EquityUSD
		}
		latest = snap.EquityUSD
	}
	if peak == 0 {
		return 0, 0
	}
	return (peak - latest) / peak, peak
}

// ReportTrade folds a closed TradeRecord into the circuit breaker's loss
// streak: a win always resets consecutive_losses to 0 and, from
// HALF_OPEN, returns to CLOSED; a loss increments the streak (tripping the
// breaker once it reaches NLoss) and, from HALF_OPEN, re-trips.
func (e *Envelope) ReportTrade(trade signal.TradeRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	win := trade.PnLUSD > 0

	switch e.circuitState {
	case CircuitHalfOpen:
		if win {
			e.circuitState = CircuitClosed
			e.consecutiveLosses = 0
		} else {
			e.circuitState = CircuitTripped
			e.trippedAt = e.clock.Now()
		}
		return
	default:
		if win {
			e.consecutiveLosses = 0
			return
		}
		e.consecutiveLosses++
		if e.consecutiveLosses >= e.cfg.NLoss {
			e.circuitState = CircuitTripped
			e.trippedAt = e.clock.Now()
		}
	}
}

// Arm enables order submission.
func (e *Envelope) Arm() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = true
}

// Disarm blocks all new signals until Arm is called again. The reason is
// for audit logging; the Envelope itself only tracks the boolean.
func (e *Envelope) Disarm(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = false
	_ = reason
}

// ResetCircuitBreaker clears a TRIPPED or HALF_OPEN breaker back to
// CLOSED, for manual operator recovery.
func (e *Envelope) ResetCircuitBreaker(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.circuitState = CircuitClosed
	e.consecutiveLosses = 0
	_ = reason
}

// Snapshot is an immutable view of Envelope state for external observers
// (spec.md §9: "external observers receive snapshots, never mutable
// handles").
type Snapshot struct {
	Armed             bool
	CircuitState      CircuitState
	ConsecutiveLosses int
}

func (e *Envelope) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Armed: e.armed, CircuitState: e.circuitState, ConsecutiveLosses: e.consecutiveLosses}
}

// FlattenAll closes every open position via the gateway and reconciles the
// Ledger with the resulting fills, per spec.md §4.6: "flatten_all MUST
// call the gateway's close_all_positions, then reconcile the Ledger with
// reduce-only fills."
func FlattenAll(ctx context.Context, reason signal.ExitReason, closeAll func(context.Context) (map[string]float64, error), ledger PositionCloser) error {
	fillPrices, err := closeAll(ctx)
	if err != nil {
		return fmt.Errorf("safety: flatten_all: gateway close failed: %w", err)
	}
	_, err = ledger.CloseAllPositions(func(symbol string) float64 {
		return fillPrices[symbol]
	}, reason)
	if err != nil {
		return fmt.Errorf("safety: flatten_all: ledger reconcile failed: %w", err)
	}
	return nil
}
