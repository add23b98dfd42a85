// Package drift implements the Drift Monitor (C7): a Z-score PnL drift
// detector and a drawdown-velocity flash-crash kill, both independent of
// individual trade logic and both manual-recovery-only.
package drift

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/signal"
)

// State is the monitor's escalation level.
type State string

const (
	StateNormal     State = "NORMAL"
	StateSafetyStop State = "SAFETY_STOP"
	StateHardKill   State = "HARD_KILL"
)

// RingSize is M in spec.md §4.7: the monitor keeps the last 30 trade PnLs.
const RingSize = 30

// MinRingSamples is the minimum ring population before a z-score is
// computed at all.
const MinRingSamples = 5

// Config holds the Drift Monitor's thresholds, per spec.md §4.7 defaults.
type Config struct {
	ZThreshold          float64       // default -2.0
	VThreshold          float64       // default 0.02 (2%)
	DrawdownWindow      time.Duration // default 5 minutes
	SampleInterval       time.Duration // default 10s
	ExpectedMean        float64
	ExpectedStdDev      float64
}

// DefaultConfig matches spec.md's literal defaults. ExpectedMean/StdDev
// must be supplied by calibration; there is no sane universal default.
func DefaultConfig(expectedMean, expectedStdDev float64) Config {
	return Config{
		ZThreshold:     -2.0,
		VThreshold:     0.02,
		DrawdownWindow: 5 * time.Minute,
		SampleInterval: 10 * time.Second,
		ExpectedMean:   expectedMean,
		ExpectedStdDev: expectedStdDev,
	}
}

// KillEvent is the structured alert persisted on a HARD_KILL transition.
type KillEvent struct {
	Peak                     float64
	Current                  float64
	ElapsedMs                int64
	DrawdownPct              float64
	DrawdownVelocityPctPerMin float64
}

// Flattener is the subset of safety-envelope/gateway behaviour the monitor
// needs to invoke flatten_all on a HARD_KILL.
type Flattener func(ctx context.Context, reason signal.ExitReason) error

// Monitor is the single-writer owner of drift/kill state.
type Monitor struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   Config

	state State

	pnlRing []float64 // most recent at the end, bounded to RingSize

	equityWindow []signal.EquitySnapshot // bounded to DrawdownWindow

	flatten Flattener
	onAlert func(event string, detail any)
}

// New builds a Monitor. flatten is invoked on HARD_KILL; onAlert (optional)
// receives structured events for SAFETY_STOP/HARD_KILL persistence.
func New(c clock.Clock, cfg Config, flatten Flattener, onAlert func(event string, detail any)) *Monitor {
	return &Monitor{clock: c, cfg: cfg, state: StateNormal, flatten: flatten, onAlert: onAlert}
}

// State reports the current escalation level.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ObserveTrade folds a closed trade's PnL into the drift ring and
// re-evaluates the z-score gate.
func (m *Monitor) ObserveTrade(ctx context.Context, trade signal.TradeRecord) {
	m.mu.Lock()

	m.pnlRing = append(m.pnlRing, trade.PnLUSD)
	if len(m.pnlRing) > RingSize {
		m.pnlRing = m.pnlRing[len(m.pnlRing)-RingSize:]
	}

	if len(m.pnlRing) < MinRingSamples || m.cfg.ExpectedStdDev == 0 || m.state == StateHardKill {
		m.mu.Unlock()
		return // HARD_KILL dominates SAFETY_STOP; no further escalation needed
	}

	mean := meanOf(m.pnlRing)
	z := (mean - m.cfg.ExpectedMean) / m.cfg.ExpectedStdDev

	shouldStop := z < m.cfg.ZThreshold && m.state != StateSafetyStop
	if shouldStop {
		m.state = StateSafetyStop
	}
	m.mu.Unlock()

	if shouldStop && m.onAlert != nil {
		m.onAlert("z_score_drift_stop", map[string]float64{"z": z, "mean": mean})
	}
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleEquity appends an equity reading to the sliding drawdown-velocity
// window and evaluates the flash-crash kill. Callers invoke this on
// Config.SampleInterval (default every 10s), per spec.md §4.7.
func (m *Monitor) SampleEquity(ctx context.Context, equity float64) error {
	m.mu.Lock()

	now := m.clock.Now()
	m.equityWindow = append(m.equityWindow, signal.EquitySnapshot{EquityUSD: equity, TimestampMs: now.UnixMilli()})

	cutoff := now.Add(-m.cfg.DrawdownWindow).UnixMilli()
	i := 0
	for ; i < len(m.equityWindow); i++ {
		if m.equityWindow[i].TimestampMs >= cutoff {
			break
		}
	}
	m.equityWindow = m.equityWindow[i:]

	if m.state == StateHardKill {
		m.mu.Unlock()
		return nil
	}

	peak, peakAt := m.windowPeak()
	if peak == 0 {
		m.mu.Unlock()
		return nil
	}
	elapsed := now.UnixMilli() - peakAt
	drawdown := (peak - equity) / peak
	shouldKill := drawdown >= m.cfg.VThreshold && time.Duration(elapsed)*time.Millisecond <= m.cfg.DrawdownWindow
	if shouldKill {
		m.state = StateHardKill
	}
	m.mu.Unlock()

	if !shouldKill {
		return nil
	}
	return m.triggerHardKill(ctx, peak, equity, elapsed, drawdown)
}

func (m *Monitor) windowPeak() (peak float64, peakAtMs int64) {
	for _, snap := range m.equityWindow {
		if snap.EquityUSD > peak {
			peak = snap.EquityUSD
			peakAtMs = snap.TimestampMs
		}
	}
	return peak, peakAtMs
}

// triggerHardKill runs the alert/flatten side effects of a HARD_KILL
// transition; m.state is already set to StateHardKill by the caller under
// lock before this runs, so it never touches Monitor fields itself.
func (m *Monitor) triggerHardKill(ctx context.Context, peak, current float64, elapsedMs int64, drawdown float64) error {
	velocityPctPerMin := drawdown * 100
	if elapsedMs > 0 {
		velocityPctPerMin = drawdown * 100 / (float64(elapsedMs) / 60_000)
	}

	event := KillEvent{
		Peak:                      peak,
		Current:                   current,
		ElapsedMs:                 elapsedMs,
		DrawdownPct:               drawdown * 100,
		DrawdownVelocityPctPerMin: velocityPctPerMin,
	}
	if m.onAlert != nil {
		m.onAlert("FLASH_CRASH_PROTECTION", event)
	}

	if m.flatten == nil {
		return nil
	}
	if err := m.flatten(ctx, signal.ExitFlashCrashProtection); err != nil {
		return fmt.Errorf("drift: hard kill flatten failed: %w", err)
	}
	return nil
}

// Reset clears the monitor back to NORMAL. newParams, if non-nil, replaces
// the z-score calibration. Recovery is manual-only per spec.md §4.7.
func (m *Monitor) Reset(newParams *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pnlRing = nil
	m.equityWindow = nil
	m.state = StateNormal
	if newParams != nil {
		m.cfg = *newParams
	}
}
