// Package ledger implements the Shadow-State Ledger (C3): the single
// authoritative, single-writer record of prepared intents, open positions
// and closed-trade history.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kaelstrom/tradecore/internal/clock"
	"github.com/kaelstrom/tradecore/internal/signal"
)

// IntentState is the PENDING -> VALIDATED/REJECTED lifecycle of a signal
// prior to execution.
type IntentState string

const (
	IntentPending   IntentState = "PENDING"
	IntentValidated IntentState = "VALIDATED"
	IntentRejected  IntentState = "REJECTED"
)

// ErrNoSuchIntent is returned by operations addressing an unknown signal_id.
var ErrNoSuchIntent = errors.New("ledger: no such intent")

// ErrPositionExists is returned by OpenPosition when a position already
// exists for the symbol and the caller did not intend to augment it.
var ErrPositionExists = errors.New("ledger: position already exists for symbol")

// ErrNoSuchPosition is returned by operations addressing a symbol with no
// open position.
var ErrNoSuchPosition = errors.New("ledger: no open position for symbol")

type intentRecord struct {
	intent signal.PreparedIntent
	state  IntentState
	reason string
}

// Ledger is the single-writer position/intent store. All exported methods
// are safe for concurrent use; the mutex is the single-writer enforcement
// point spec.md §5 requires.
type Ledger struct {
	mu sync.Mutex

	clock clock.Clock

	intents   map[string]*intentRecord // keyed by signal_id
	positions map[string]*signal.Position
	history   []signal.TradeRecord
}

// New builds an empty Ledger.
func New(c clock.Clock) *Ledger {
	return &Ledger{
		clock:     c,
		intents:   make(map[string]*intentRecord),
		positions: make(map[string]*signal.Position),
	}
}

// ProcessIntent registers a freshly-materialised PreparedIntent as PENDING.
func (l *Ledger) ProcessIntent(intent signal.PreparedIntent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.intents[intent.Signal.SignalID] = &intentRecord{intent: intent, state: IntentPending}
}

// ValidateIntent transitions PENDING -> VALIDATED.
func (l *Ledger) ValidateIntent(signalID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.intents[signalID]
	if !ok {
		return ErrNoSuchIntent
	}
	rec.state = IntentValidated
	return nil
}

// RejectIntent transitions PENDING -> REJECTED with a stable reason string.
func (l *Ledger) RejectIntent(signalID, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.intents[signalID]
	if !ok {
		return ErrNoSuchIntent
	}
	rec.state = IntentRejected
	rec.reason = reason
	return nil
}

// GetIntent returns the PreparedIntent for signalID, if still held.
func (l *Ledger) GetIntent(signalID string) (signal.PreparedIntent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.intents[signalID]
	if !ok {
		return signal.PreparedIntent{}, false
	}
	return rec.intent, true
}

// DropIntent removes a PreparedIntent outright (used by ABORT and by the
// stale-intent sweeper).
func (l *Ledger) DropIntent(signalID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.intents, signalID)
}

// SweepStale removes every PreparedIntent older than ttl and returns their
// signal_ids, for the periodic sweeper described in spec.md §4.2.
func (l *Ledger) SweepStale(ttl time.Duration) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Monotonic()
	var stale []string
	for id, rec := range l.intents {
		if rec.intent.Expired(now, ttl) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(l.intents, id)
	}
	return stale
}

// ConfirmExecution creates or augments the Position for the intent's
// symbol using the *actual* filled price/size, per spec.md §4.2 step 5 and
// §4.3. It deletes the PreparedIntent.
func (l *Ledger) ConfirmExecution(signalID string, fillPrice, fillSize float64) (*signal.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.intents[signalID]
	if !ok {
		return nil, ErrNoSuchIntent
	}
	delete(l.intents, signalID)

	sig := rec.intent.Signal
	now := l.clock.Now()
	fill := signal.Fill{
		FillID:    signalID,
		Price:     fillPrice,
		Qty:       fillSize,
		Timestamp: now,
	}

	pos, exists := l.positions[sig.Symbol]
	if !exists {
		pos = &signal.Position{
			Symbol:         sig.Symbol,
			Side:           sig.Direction,
			StopLoss:       sig.StopLoss,
			TakeProfits:    sig.TakeProfits,
			OpenedAt:       now,
			RequestedUnits: rec.intent.PositionSizeUSD / fillPrice,
			FillState:      signal.FillRequested,
			OrderOpenedAt:  now,
		}
		l.positions[sig.Symbol] = pos
	}

	l.applyFillLocked(pos, fill)
	return pos, nil
}

// applyFillLocked folds a fill into a position's size and volume-weighted
// average entry price. Caller must hold l.mu.
func (l *Ledger) applyFillLocked(pos *signal.Position, fill signal.Fill) {
	totalCost := pos.EntryPrice*pos.SizeUnits + fill.Price*fill.Qty
	pos.SizeUnits += fill.Qty
	if pos.SizeUnits != 0 {
		pos.EntryPrice = totalCost / pos.SizeUnits
	}
	pos.NotionalUSD = pos.SizeUnits * pos.EntryPrice
	pos.Fills = append(pos.Fills, fill)

	if pos.RequestedUnits > 0 {
		ratio := pos.SizeUnits / pos.RequestedUnits
		switch {
		case ratio >= 0.999:
			pos.FillState = signal.FillComplete
		default:
			pos.FillState = signal.FillPartial
		}
	}
}

// ReportAdditionalFill folds a later fill (e.g. from a chase order) into an
// existing position.
func (l *Ledger) ReportAdditionalFill(symbol string, fill signal.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoSuchPosition
	}
	l.applyFillLocked(pos, fill)
	return nil
}

// MarkChasing / MarkCancelled record the handler's chase-vs-cancel decision
// (spec.md §4.3) on the position's fill-window state machine.
func (l *Ledger) MarkChasing(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoSuchPosition
	}
	pos.FillState = signal.FillChasing
	return nil
}

func (l *Ledger) MarkCancelled(symbol string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoSuchPosition
	}
	pos.FillState = signal.FillCancelled
	return nil
}

// OpenPosition creates a position directly (bypassing the intent/fill
// flow), used by reconciliation on restart.
func (l *Ledger) OpenPosition(pos signal.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.positions[pos.Symbol]; exists {
		return ErrPositionExists
	}
	l.positions[pos.Symbol] = &pos
	return nil
}

// ClosePosition closes the position for symbol at exitPrice, appends
// exactly one TradeRecord to history, and removes the Position.
func (l *Ledger) ClosePosition(symbol string, exitPrice float64, reason signal.ExitReason) (signal.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closePositionLocked(symbol, exitPrice, reason)
}

func (l *Ledger) closePositionLocked(symbol string, exitPrice float64, reason signal.ExitReason) (signal.TradeRecord, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return signal.TradeRecord{}, ErrNoSuchPosition
	}
	delete(l.positions, symbol)

	pnl := (exitPrice - pos.EntryPrice) * pos.SizeUnits
	if pos.Side == signal.Short {
		pnl = -pnl
	}
	var pnlPct float64
	if pos.NotionalUSD != 0 {
		pnlPct = pnl / pos.NotionalUSD * 100
	}

	now := l.clock.Now()
	rec := signal.TradeRecord{
		Symbol:     symbol,
		Direction:  pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnLUSD:     pnl,
		PnLPct:     pnlPct,
		DurationMs: now.Sub(pos.OpenedAt).Milliseconds(),
		ExitReason: reason,
		ClosedAt:   now,
	}
	l.history = append(l.history, rec)
	return rec, nil
}

// CloseAllPositions atomically sweeps every open position, producing one
// TradeRecord per symbol, using priceLookup(symbol) for the exit price.
func (l *Ledger) CloseAllPositions(priceLookup func(symbol string) float64, reason signal.ExitReason) ([]signal.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	symbols := make([]string, 0, len(l.positions))
	for s := range l.positions {
		symbols = append(symbols, s)
	}

	var records []signal.TradeRecord
	var firstErr error
	for _, s := range symbols {
		price := priceLookup(s)
		rec, err := l.closePositionLocked(s, price, reason)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("closing %s: %w", s, err)
			}
			continue
		}
		records = append(records, rec)
	}
	return records, firstErr
}

// GetPosition returns a copy of the position for symbol, if open.
func (l *Ledger) GetPosition(symbol string) (signal.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return signal.Position{}, false
	}
	return *pos, true
}

// GetAllPositions returns a snapshot copy of every open position.
func (l *Ledger) GetAllPositions() []signal.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]signal.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// MarkToMarket updates a live position's unrealized PnL against a current
// price, without closing it. A partially filled position is already open
// here and can be marked before its chase/cancel decision resolves. The
// Safety Envelope's drawdown gates do not read this value; they work from
// the account equity passed to Envelope.Consult.
func (l *Ledger) MarkToMarket(symbol string, currentPrice float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoSuchPosition
	}
	pnl := (currentPrice - pos.EntryPrice) * pos.SizeUnits
	if pos.Side == signal.Short {
		pnl = -pnl
	}
	pos.UnrealizedPnL = pnl
	return nil
}

// PnLStats summarises closed-trade history over a lookback window.
type PnLStats struct {
	Trades    int
	Wins      int
	Losses    int
	TotalPnL  float64
	WinRate   float64
}

// CalcPnLStats computes stats over TradeRecords closed within the last
// `days` days (relative to the ledger's clock).
func (l *Ledger) CalcPnLStats(days int) PnLStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().AddDate(0, 0, -days)
	var stats PnLStats
	for _, rec := range l.history {
		if rec.ClosedAt.Before(cutoff) {
			continue
		}
		stats.Trades++
		stats.TotalPnL += rec.PnLUSD
		if rec.PnLUSD > 0 {
			stats.Wins++
		} else if rec.PnLUSD < 0 {
			stats.Losses++
		}
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades) * 100
	}
	return stats
}

// ChaseAction is the handler's partial-fill decision, per spec.md §4.3.
type ChaseAction string

const (
	ChaseWait   ChaseAction = "WAIT"
	ChaseChase  ChaseAction = "CHASE"
	ChaseCancel ChaseAction = "CANCEL"
)

// DecideChase implements the fill_ratio rule from spec.md §4.3:
//
//	fill_ratio = filled / requested
//	< 0.5 and elapsed > 5s  -> CANCEL remainder
//	>= 0.5                  -> CHASE remainder at current touch
//	otherwise (< 0.5, still within 5s) -> WAIT
func DecideChase(filled, requested float64, elapsed time.Duration) ChaseAction {
	if requested <= 0 {
		return ChaseWait
	}
	ratio := filled / requested
	if ratio >= 0.5 {
		return ChaseChase
	}
	if elapsed > 5*time.Second {
		return ChaseCancel
	}
	return ChaseWait
}

// History returns a copy of every closed TradeRecord.
func (l *Ledger) History() []signal.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]signal.TradeRecord, len(l.history))
	copy(out, l.history)
	return out
}
