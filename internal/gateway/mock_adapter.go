package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// MockAdapter is a paper-trading Adapter: it simulates acks, slippage and
// partial fills instead of calling a real venue. Adapted from
// d703808b_web3guy0-polybot's simulateFill/executeLive split and
// 41eb3b21_autovant-trading-bot's PaperBroker slippage model.
type MockAdapter struct {
	mu sync.Mutex

	name          string
	random        *rand.Rand
	slippageBps   int
	partialFillPx float64 // probability [0,1] that an order (of any type) only partially fills
	nextOrderID   int64

	positions map[string]VenuePosition
	equity    float64
}

// MockAdapterConfig tunes the simulation.
type MockAdapterConfig struct {
	Name           string
	SlippageBps    int     // default 10 (0.1%)
	PartialFillPct float64 // probability an order (of any type) partially fills, default 0
	StartingEquity float64 // default 100_000
	Seed           int64
}

// NewMockAdapter builds a MockAdapter. Seed is caller-supplied so the
// simulated partial fills are reproducible in tests.
func NewMockAdapter(cfg MockAdapterConfig) *MockAdapter {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = 10
	}
	if cfg.StartingEquity == 0 {
		cfg.StartingEquity = 100_000
	}
	return &MockAdapter{
		name:          cfg.Name,
		random:        rand.New(rand.NewSource(cfg.Seed)),
		slippageBps:   cfg.SlippageBps,
		partialFillPx: cfg.PartialFillPct,
		positions:     make(map[string]VenuePosition),
		equity:        cfg.StartingEquity,
	}
}

func (m *MockAdapter) Name() string { return m.name }

func (m *MockAdapter) SendOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextOrderID++
	orderID := fmt.Sprintf("MOCK-%d", m.nextOrderID)

	refPrice := req.LimitPrice
	if !req.HasLimitPrice {
		// no book reference available to a bare mock: an order without a
		// limit price (the planner sends MARKET orders this way) fills
		// around a reference price of 1, whatever LimitPrice holds.
		refPrice = 1
	}

	slip := float64(m.slippageBps) / 10_000
	fillPrice := refPrice
	if req.Side == "BUY" {
		fillPrice = refPrice * (1 + slip)
	} else {
		fillPrice = refPrice * (1 - slip)
	}

	fillSize := req.SizeUnits
	status := "FILLED"
	if m.partialFillPx > 0 && m.random.Float64() < m.partialFillPx {
		fillSize = req.SizeUnits * (0.3 + m.random.Float64()*0.4) // 30-70% partial
		status = "PARTIAL"
	}

	m.applyFillLocked(req, fillPrice, fillSize)

	return OrderResult{
		Success:       true,
		Symbol:        req.Symbol,
		BrokerOrderID: orderID,
		FillPrice:     fillPrice,
		FillSize:      fillSize,
		Status:        status,
	}, nil
}

func (m *MockAdapter) applyFillLocked(req OrderRequest, fillPrice, fillSize float64) {
	pos, exists := m.positions[req.Symbol]
	signedQty := fillSize
	if req.Side == "SELL" {
		signedQty = -fillSize
	}

	if !exists {
		m.positions[req.Symbol] = VenuePosition{
			Symbol:     req.Symbol,
			Side:       req.Side,
			SizeUnits:  signedQty,
			EntryPrice: fillPrice,
		}
		return
	}

	totalCost := pos.EntryPrice*pos.SizeUnits + fillPrice*signedQty
	pos.SizeUnits += signedQty
	if pos.SizeUnits != 0 {
		pos.EntryPrice = totalCost / pos.SizeUnits
	}
	m.positions[req.Symbol] = pos
}

func (m *MockAdapter) GetAccount(ctx context.Context) (AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return AccountInfo{EquityUSD: m.equity, AvailableUSD: m.equity}, nil
}

func (m *MockAdapter) GetPositions(ctx context.Context) ([]VenuePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VenuePosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *MockAdapter) ClosePosition(ctx context.Context, symbol string) (OrderResult, error) {
	m.mu.Lock()
	pos, exists := m.positions[symbol]
	m.mu.Unlock()
	if !exists {
		return OrderResult{Success: false, Status: "REJECTED", Error: "no position"}, nil
	}

	side := "SELL"
	if pos.SizeUnits < 0 {
		side = "BUY"
	}
	req := OrderRequest{
		Symbol:        symbol,
		Side:          side,
		SizeUnits:     absFloat(pos.SizeUnits),
		LimitPrice:    pos.EntryPrice,
		HasLimitPrice: true,
		ReduceOnly:    true,
	}
	result, err := m.SendOrder(ctx, req)
	m.mu.Lock()
	delete(m.positions, symbol)
	m.mu.Unlock()
	return result, err
}

func (m *MockAdapter) CloseAllPositions(ctx context.Context) ([]OrderResult, error) {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.positions))
	for s := range m.positions {
		symbols = append(symbols, s)
	}
	m.mu.Unlock()

	results := make([]OrderResult, 0, len(symbols))
	for _, s := range symbols {
		r, _ := m.ClosePosition(ctx, s)
		results = append(results, r)
	}
	return results, nil
}

func (m *MockAdapter) CancelOrder(ctx context.Context, orderID string) error {
	return nil
}

func (m *MockAdapter) HealthCheck(ctx context.Context) (HealthResult, error) {
	return HealthResult{Success: true}, nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
