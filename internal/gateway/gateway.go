package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// OrderLog is the durable, append-only signed-order persistence the
// gateway writes to before dispatch, per spec.md §4.5. internal/store
// implements this against gorm+mysql; tests use an in-memory stub.
type OrderLog interface {
	RecordSubmission(clientOrderID, symbol, side string, size, limitPrice float64, submittedAt time.Time) error
	OpenOrderIDs() ([]string, error)
	MarkResolved(clientOrderID string) error
}

// RateLimiter bounds outbound calls per venue. A small token-bucket
// implementation lives in ratelimit.go; this interface lets tests swap it.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// SelectionPriority is the adapter-selection order from spec.md §4.5:
// MOCK -> primary -> secondary -> mock-fallback.
type SelectionPriority struct {
	Mock         Adapter
	Primary      Adapter
	Secondary    Adapter
	MockFallback Adapter
}

// Select returns the first available adapter in priority order. "First
// available" here means non-nil; an operator configures which tiers exist.
func (p SelectionPriority) Select() (Adapter, error) {
	for _, a := range []Adapter{p.Mock, p.Primary, p.Secondary, p.MockFallback} {
		if a != nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("gateway: no adapter configured in any priority tier")
}

// Gateway wraps a single chosen Adapter with the gateway-level concerns
// spec.md §4.5 assigns to it: signed-order persistence, per-venue rate
// limiting, and quiesce-swap-resume adapter switching.
type Gateway struct {
	mu      sync.RWMutex
	adapter Adapter
	log     OrderLog
	limiter RateLimiter

	inFlight sync.WaitGroup
}

// New builds a Gateway around adapter.
func New(adapter Adapter, log OrderLog, limiter RateLimiter) *Gateway {
	return &Gateway{adapter: adapter, log: log, limiter: limiter}
}

// Reconcile reads the durable order log and returns every client_order_id
// still marked open on it. It does not query the adapter: the ids are not
// compared with the venue's open-order state, so the result includes
// orders the venue may still hold as well as ones it no longer has.
func (g *Gateway) Reconcile(ctx context.Context) ([]string, error) {
	ids, err := g.log.OpenOrderIDs()
	if err != nil {
		return nil, fmt.Errorf("gateway: reconcile: read order log: %w", err)
	}
	return ids, nil
}

// SendOrder writes a durable submission record, then dispatches to the
// current adapter, observing the rate limiter and the adapter call
// timeout. Order matters: the log entry must exist before the network call
// so a crash mid-dispatch is still reconcilable on restart.
func (g *Gateway) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	g.mu.RLock()
	adapter := g.adapter
	limiter := g.limiter
	g.mu.RUnlock()

	if err := g.log.RecordSubmission(req.ClientOrderID, req.Symbol, req.Side, req.SizeUnits, req.LimitPrice, time.Now()); err != nil {
		return OrderResult{}, fmt.Errorf("gateway: persist submission: %w", err)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return OrderResult{}, fmt.Errorf("gateway: rate limit: %w", err)
		}
	}

	g.inFlight.Add(1)
	defer g.inFlight.Done()

	result, err := adapter.SendOrder(ctx, req)
	if err == nil {
		_ = g.log.MarkResolved(req.ClientOrderID)
	}
	return result, err
}

func (g *Gateway) GetAccount(ctx context.Context) (AccountInfo, error) {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.GetAccount(ctx)
}

func (g *Gateway) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.GetPositions(ctx)
}

func (g *Gateway) ClosePosition(ctx context.Context, symbol string) (OrderResult, error) {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.ClosePosition(ctx, symbol)
}

// CloseAllPositions flattens every position the adapter reports. The
// Safety Envelope's flatten_all calls this and then reconciles the Ledger.
func (g *Gateway) CloseAllPositions(ctx context.Context) ([]OrderResult, error) {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.CloseAllPositions(ctx)
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) error {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.CancelOrder(ctx, orderID)
}

func (g *Gateway) HealthCheck(ctx context.Context) (HealthResult, error) {
	g.mu.RLock()
	adapter := g.adapter
	g.mu.RUnlock()
	return adapter.HealthCheck(ctx)
}

// SwapAdapter implements the quiesce -> swap -> resume ritual from
// spec.md §4.5: it waits for in-flight orders to complete, then installs
// the replacement adapter.
func (g *Gateway) SwapAdapter(next Adapter) {
	g.inFlight.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapter = next
}

// CurrentAdapterName reports which adapter is presently installed.
func (g *Gateway) CurrentAdapterName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.adapter.Name()
}
