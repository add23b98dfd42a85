package drift

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/signal"
)

// Scenario 5 of spec.md §8: equity samples (10000,0ms) (10000,1000)
// (9750,120000) -> HARD_KILL fires at t=120000 (2.5% drop inside window).
func TestMonitor_FlashCrashKill_FiresAtExactScenario(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	var flattened bool
	var flattenReason signal.ExitReason
	flatten := func(ctx context.Context, reason signal.ExitReason) error {
		flattened = true
		flattenReason = reason
		return nil
	}

	var lastEvent string
	var lastDetail any
	onAlert := func(event string, detail any) {
		lastEvent = event
		lastDetail = detail
	}

	cfg := DefaultConfig(0, 0) // z-score calibration irrelevant to this test
	m := New(fake, cfg, flatten, onAlert)

	require.NoError(t, m.SampleEquity(context.Background(), 10_000))

	fake.Advance(1000 * time.Millisecond)
	require.NoError(t, m.SampleEquity(context.Background(), 10_000))

	fake.Advance(119 * time.Second) // now at t=120_000ms total
	require.NoError(t, m.SampleEquity(context.Background(), 9_750))

	assert.Equal(t, StateHardKill, m.State())
	assert.True(t, flattened)
	assert.Equal(t, signal.ExitFlashCrashProtection, flattenReason)
	assert.Equal(t, "FLASH_CRASH_PROTECTION", lastEvent)

	event := lastDetail.(KillEvent)
	assert.InDelta(t, 2.5, event.DrawdownPct, 0.01)
}

func TestMonitor_FlashCrashKill_DoesNotFireOutsideWindow(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m := New(fake, DefaultConfig(0, 0), func(context.Context, signal.ExitReason) error { return nil }, nil)

	require.NoError(t, m.SampleEquity(context.Background(), 10_000))
	fake.Advance(6 * time.Minute) // past the 5-minute window
	require.NoError(t, m.SampleEquity(context.Background(), 9_750))

	assert.Equal(t, StateNormal, m.State())
}

func TestMonitor_ZScoreDrift_TriggersSafetyStop(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m := New(fake, DefaultConfig(100, 50), nil, nil) // expect mean PnL 100, stddev 50

	for i := 0; i < 5; i++ {
		m.ObserveTrade(context.Background(), signal.TradeRecord{PnLUSD: -50})
	}

	assert.Equal(t, StateSafetyStop, m.State())
}

func TestMonitor_Reset_ReturnsToNormal(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m := New(fake, DefaultConfig(100, 50), nil, nil)
	for i := 0; i < 5; i++ {
		m.ObserveTrade(context.Background(), signal.TradeRecord{PnLUSD: -50})
	}
	require.Equal(t, StateSafetyStop, m.State())

	m.Reset(nil)
	assert.Equal(t, StateNormal, m.State())
}

func TestMonitor_HardKillDominatesSafetyStop(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	m := New(fake, DefaultConfig(100, 50), func(context.Context, signal.ExitReason) error { return nil }, nil)

	for i := 0; i < 5; i++ {
		m.ObserveTrade(context.Background(), signal.TradeRecord{PnLUSD: -50})
	}
	require.Equal(t, StateSafetyStop, m.State())

	require.NoError(t, m.SampleEquity(context.Background(), 10_000))
	fake.Advance(time.Second)
	require.NoError(t, m.SampleEquity(context.Background(), 9_700))

	assert.Equal(t, StateHardKill, m.State())
}
