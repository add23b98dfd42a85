package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/signal"
)

func newTestLedger(t *testing.T) (*Ledger, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(fake), fake
}

func TestLedger_ConfirmExecution_OpensPosition(t *testing.T) {
	l, _ := newTestLedger(t)

	intent := signal.PreparedIntent{
		Signal:          signal.Signal{SignalID: "sig-1", Symbol: "BTCUSDT", Direction: signal.Long},
		PositionSizeUSD: 1_000_000, // so RequestedUnits comes out clean against fillPrice
	}
	l.ProcessIntent(intent)

	pos, err := l.ConfirmExecution("sig-1", 50_000, 20.0)
	require.NoError(t, err)
	assert.Equal(t, 20.0, pos.SizeUnits)
	assert.Equal(t, 50_000.0, pos.EntryPrice)

	_, stillThere := l.GetIntent("sig-1")
	assert.False(t, stillThere, "PreparedIntent must be removed on confirm")
}

// At-most-one-position-per-symbol invariant (spec.md §8): a second confirm
// on the same symbol augments, it does not create a second position.
func TestLedger_ConfirmExecution_AugmentsExistingPosition(t *testing.T) {
	l, _ := newTestLedger(t)

	l.ProcessIntent(signal.PreparedIntent{
		Signal:          signal.Signal{SignalID: "sig-1", Symbol: "ETHUSDT", Direction: signal.Long},
		PositionSizeUSD: 3000,
	})
	_, err := l.ConfirmExecution("sig-1", 3000, 1.0)
	require.NoError(t, err)

	l.ProcessIntent(signal.PreparedIntent{
		Signal:          signal.Signal{SignalID: "sig-2", Symbol: "ETHUSDT", Direction: signal.Long},
		PositionSizeUSD: 3300,
	})
	pos, err := l.ConfirmExecution("sig-2", 3300, 1.0)
	require.NoError(t, err)

	assert.Equal(t, 2.0, pos.SizeUnits)
	assert.InDelta(t, 3150.0, pos.EntryPrice, 0.001) // volume-weighted average

	all := l.GetAllPositions()
	assert.Len(t, all, 1)
}

func TestLedger_ClosePosition_ProducesExactlyOneTradeRecord(t *testing.T) {
	l, fake := newTestLedger(t)

	l.ProcessIntent(signal.PreparedIntent{
		Signal:          signal.Signal{SignalID: "sig-1", Symbol: "BTCUSDT", Direction: signal.Long},
		PositionSizeUSD: 50_000,
	})
	_, err := l.ConfirmExecution("sig-1", 50_000, 1.0)
	require.NoError(t, err)

	fake.Advance(5 * time.Minute)
	rec, err := l.ClosePosition("BTCUSDT", 51_000, signal.ExitTakeProfit)
	require.NoError(t, err)

	assert.Equal(t, 1000.0, rec.PnLUSD)
	assert.Equal(t, signal.ExitTakeProfit, rec.ExitReason)
	assert.Equal(t, int64(5*time.Minute/time.Millisecond), rec.DurationMs)

	_, exists := l.GetPosition("BTCUSDT")
	assert.False(t, exists)
	assert.Len(t, l.History(), 1)
}

func TestLedger_CloseAllPositions_OneRecordPerSymbol(t *testing.T) {
	l, _ := newTestLedger(t)

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		l.ProcessIntent(signal.PreparedIntent{
			Signal:          signal.Signal{SignalID: "sig-" + sym, Symbol: sym, Direction: signal.Long},
			PositionSizeUSD: 1000,
		})
		_, err := l.ConfirmExecution("sig-"+sym, 100, 10)
		require.NoError(t, err)
	}

	records, err := l.CloseAllPositions(func(string) float64 { return 110 }, signal.ExitFlashCrashProtection)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Empty(t, l.GetAllPositions())
}

func TestDecideChase(t *testing.T) {
	t.Run("chases at or above half filled", func(t *testing.T) {
		assert.Equal(t, ChaseChase, DecideChase(0.6, 1.0, 1*time.Second))
	})

	t.Run("waits below half filled inside the window", func(t *testing.T) {
		assert.Equal(t, ChaseWait, DecideChase(0.2, 1.0, 2*time.Second))
	})

	t.Run("cancels below half filled once the window elapses", func(t *testing.T) {
		// scenario 6 of spec.md §8: fill stays at 0 past 5s elapsed.
		assert.Equal(t, ChaseCancel, DecideChase(0, 1.0, 5*time.Second+1))
	})
}

func TestLedger_StaleIntentSweeper(t *testing.T) {
	l, fake := newTestLedger(t)
	l.ProcessIntent(signal.PreparedIntent{
		Signal:         signal.Signal{SignalID: "sig-1", Symbol: "BTCUSDT"},
		PreparedAtMono: fake.Monotonic(),
	})

	fake.Advance(11 * time.Second)
	stale := l.SweepStale(10 * time.Second)
	assert.Equal(t, []string{"sig-1"}, stale)

	_, exists := l.GetIntent("sig-1")
	assert.False(t, exists)
}
