package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/gateway"
	"github.com/kaelstrom/tradecore/internal/ledger"
	"github.com/kaelstrom/tradecore/internal/replayguard"
	"github.com/kaelstrom/tradecore/internal/safety"
	"github.com/kaelstrom/tradecore/internal/signal"
)

type fixedL2 struct {
	snap signal.MarketSnapshot
	ok   bool
}

func (f fixedL2) Snapshot(symbol string) (signal.MarketSnapshot, bool) { return f.snap, f.ok }

type fixedEquity float64

func (f fixedEquity) EquityUSD() float64 { return float64(f) }

type memOrderLog struct{}

func (memOrderLog) RecordSubmission(string, string, string, float64, float64, time.Time) error {
	return nil
}
func (memOrderLog) OpenOrderIDs() ([]string, error) { return nil, nil }
func (memOrderLog) MarkResolved(string) error       { return nil }

func newTestPlanner(t *testing.T, fake clock.Clock, snap signal.MarketSnapshot, equity float64) (*Planner, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(fake)
	guard := replayguard.New(fake, 0, 0)
	envelope := safety.New(fake, safety.DefaultConfig())
	envelope.Arm()
	mock := gateway.NewMockAdapter(gateway.MockAdapterConfig{SlippageBps: 1, StartingEquity: equity})
	gw := gateway.New(mock, memOrderLog{}, nil)
	l2 := fixedL2{snap: snap, ok: true}
	p := New(fake, l, guard, envelope, gw, l2, fixedEquity(equity), DefaultSizingConfig(), nil)
	return p, l
}

// Scenario 1 of spec.md §8: equity 100,000, risk_pct 2%, confidence 80,
// leverage 20, velocity 0.002 -> position_size ~= 20.00, LIMIT at best_ask.
func TestPlanner_HappyPath(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 10}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{
		SignalID:   "sig-1",
		Kind:       signal.KindPrepare,
		Symbol:     "BTCUSDT",
		Direction:  signal.Long,
		StopLoss:   49500,
		TakeProfits: []float64{50500},
		Confidence: 80,
		Leverage:   20,
		Velocity:   0.002,
	}

	prepared := p.Prepare(sig)
	require.Equal(t, "prepared", prepared.Status)
	assert.InDelta(t, 20.0, prepared.PositionSize, 0.5)
	assert.Equal(t, signal.OrderLimit, prepared.OrderType)

	confirmed := p.Confirm(context.Background(), signal.Signal{SignalID: "sig-1", Kind: signal.KindConfirm, Symbol: "BTCUSDT"})
	require.True(t, confirmed.Executed)
	assert.InDelta(t, 50000, confirmed.FillPrice, 10)
	assert.InDelta(t, 20.0/50000, confirmed.FillSize, 0.0001)

	positions := l.GetAllPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, signal.Long, positions[0].Side)
}

// Scenario 2 of spec.md §8: CONFIRM arriving after PrepareTTL is rejected
// as STALE_SIGNAL and leaves no position or intent behind.
func TestPlanner_StaleConfirm(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 10}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{SignalID: "sig-2", Kind: signal.KindPrepare, Symbol: "BTCUSDT", Direction: signal.Long, Confidence: 80, Leverage: 20, Velocity: 0.002}
	require.Equal(t, "prepared", p.Prepare(sig).Status)

	fake.Advance(11 * time.Second)
	confirmed := p.Confirm(context.Background(), signal.Signal{SignalID: "sig-2", Kind: signal.KindConfirm, Symbol: "BTCUSDT"})

	assert.False(t, confirmed.Executed)
	assert.Equal(t, "rejected", confirmed.Status)
	assert.Equal(t, "STALE_SIGNAL", confirmed.Reason)
	assert.Empty(t, l.GetAllPositions())
	_, ok := l.GetIntent("sig-2")
	assert.False(t, ok)
}

// Scenario 3 of spec.md §8: a duplicate PREPARE with the same signal_id
// echoes the first outcome instead of re-running the planner.
func TestPlanner_DuplicatePrepare(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 10}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{SignalID: "sig-3", Kind: signal.KindPrepare, Symbol: "BTCUSDT", Direction: signal.Long, Confidence: 80, Leverage: 20, Velocity: 0.002}

	first := p.Prepare(sig)
	second := p.Prepare(sig)

	assert.Equal(t, first, second)
	_, ok := l.GetIntent("sig-3")
	assert.True(t, ok, "exactly one PreparedIntent should exist")
}

func TestPlanner_Abort_AlwaysAcknowledges(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 10}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{SignalID: "sig-4", Kind: signal.KindPrepare, Symbol: "BTCUSDT", Direction: signal.Long, Confidence: 80, Leverage: 20, Velocity: 0.002}
	require.Equal(t, "prepared", p.Prepare(sig).Status)

	result := p.Abort(signal.Signal{SignalID: "sig-4", Kind: signal.KindAbort})
	assert.Equal(t, "aborted", result["status"])
	_, ok := l.GetIntent("sig-4")
	assert.False(t, ok)
}

// A CONFIRM whose requested size exceeds the book depth on the relevant
// side must be rejected rather than routed to the gateway.
func TestPlanner_Confirm_InsufficientDepth(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 0.00001}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{SignalID: "sig-6", Kind: signal.KindPrepare, Symbol: "BTCUSDT", Direction: signal.Long, Confidence: 80, Leverage: 20, Velocity: 0.002}
	require.Equal(t, "prepared", p.Prepare(sig).Status)

	confirmed := p.Confirm(context.Background(), signal.Signal{SignalID: "sig-6", Kind: signal.KindConfirm, Symbol: "BTCUSDT"})
	assert.False(t, confirmed.Executed)
	assert.Equal(t, "INSUFFICIENT_LIQUIDITY", confirmed.Reason)
	assert.Empty(t, l.GetAllPositions())
}

func TestPlanner_SweepStaleIntents(t *testing.T) {
	fake := clock.NewFake(time.Now())
	snap := signal.MarketSnapshot{Symbol: "BTCUSDT", BestBid: 49999, BestAsk: 50001, DepthBid: 10, DepthAsk: 10}
	p, l := newTestPlanner(t, fake, snap, 100_000)

	sig := signal.Signal{SignalID: "sig-5", Kind: signal.KindPrepare, Symbol: "BTCUSDT", Direction: signal.Long, Confidence: 80, Leverage: 20, Velocity: 0.002}
	require.Equal(t, "prepared", p.Prepare(sig).Status)

	fake.Advance(11 * time.Second)
	dropped := p.SweepStaleIntents()
	assert.Contains(t, dropped, "sig-5")
	_, ok := l.GetIntent("sig-5")
	assert.False(t, ok)
}
