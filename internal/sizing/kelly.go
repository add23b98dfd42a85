// Package sizing holds the pure math the planner uses to turn a signal
// into a position size and an order type: fractional-Kelly sizing and
// velocity-based order-type selection.
package sizing

import "github.com/kaelstrom/tradecore/internal/signal"

// KellyFraction is the safety factor applied on top of raw confidence.
const KellyFraction = 0.25

// MinPositionUSD is the floor below which a sized position is not worth
// opening.
const MinPositionUSD = 10

// PositionSizeUSD implements spec's fractional-Kelly rule:
//
//	size = equity * riskPct * (confidence/100 * 0.25) / leverage
//
// clamped below by MinPositionUSD and above by equity*maxPositionPct.
func PositionSizeUSD(equity, riskPct, confidence, leverage, maxPositionPct float64) float64 {
	if leverage <= 0 {
		leverage = 1
	}
	raw := equity * riskPct * (confidence / 100 * KellyFraction) / leverage
	if raw < MinPositionUSD {
		raw = MinPositionUSD
	}
	ceiling := equity * maxPositionPct
	if raw > ceiling {
		raw = ceiling
	}
	return raw
}

// VelocityThresholds are the breakpoints between order-type tiers.
type VelocityThresholds struct {
	HighVelocity   float64 // default 0.005 (0.5%/s)
	MediumVelocity float64 // default 0.001 (0.1%/s)
}

// DefaultVelocityThresholds matches spec.md's literal breakpoints.
func DefaultVelocityThresholds() VelocityThresholds {
	return VelocityThresholds{HighVelocity: 0.005, MediumVelocity: 0.001}
}

// OrderDecision is the planner's order-type choice plus its reason.
type OrderDecision struct {
	OrderType  signal.OrderType
	Reason     string
	LimitPrice float64 // only meaningful when OrderType != MARKET
}

// ChooseOrderType implements spec's velocity ladder. dir determines which
// side of the book is "aggressive" vs "passive".
func ChooseOrderType(velocity float64, dir signal.Direction, snap signal.MarketSnapshot, th VelocityThresholds) OrderDecision {
	switch {
	case velocity > th.HighVelocity:
		return OrderDecision{OrderType: signal.OrderMarket, Reason: "HIGH_VELOCITY"}
	case velocity > th.MediumVelocity:
		price := snap.BestAsk
		if dir == signal.Short {
			price = snap.BestBid
		}
		return OrderDecision{OrderType: signal.OrderLimit, Reason: "MEDIUM_VELOCITY", LimitPrice: price}
	default:
		price := snap.BestBid
		if dir == signal.Short {
			price = snap.BestAsk
		}
		return OrderDecision{OrderType: signal.OrderPostOnly, Reason: "LOW_VELOCITY", LimitPrice: price}
	}
}

// Aggressiveness ranks order types from least (0) to most (2) aggressive,
// so callers can assert monotonicity directly instead of re-deriving the
// velocity ladder.
func Aggressiveness(t signal.OrderType) int {
	switch t {
	case signal.OrderPostOnly:
		return 0
	case signal.OrderLimit:
		return 1
	case signal.OrderMarket:
		return 2
	default:
		return -1
	}
}
