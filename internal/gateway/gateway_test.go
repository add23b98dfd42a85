package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memOrderLog is an in-memory OrderLog stub for tests; internal/store
// provides the gorm+mysql-backed production implementation.
type memOrderLog struct {
	mu   sync.Mutex
	open map[string]bool
}

func newMemOrderLog() *memOrderLog { return &memOrderLog{open: make(map[string]bool)} }

func (m *memOrderLog) RecordSubmission(clientOrderID, symbol, side string, size, limitPrice float64, submittedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[clientOrderID] = true
	return nil
}

func (m *memOrderLog) OpenOrderIDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.open))
	for id, open := range m.open {
		if open {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memOrderLog) MarkResolved(clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[clientOrderID] = false
	return nil
}

func TestGateway_SendOrder_ResolvesLogEntryOnSuccess(t *testing.T) {
	adapter := NewMockAdapter(MockAdapterConfig{Seed: 1})
	log := newMemOrderLog()
	gw := New(adapter, log, nil)

	result, err := gw.SendOrder(context.Background(), OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		SizeUnits:     1.0,
		LimitPrice:    50_000,
		HasLimitPrice: true,
		ClientOrderID: "co-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	ids, _ := log.OpenOrderIDs()
	assert.Empty(t, ids, "order should be marked resolved after a successful dispatch")
}

func TestGateway_SwapAdapter_InstallsReplacement(t *testing.T) {
	a1 := NewMockAdapter(MockAdapterConfig{Name: "a1", Seed: 1})
	a2 := NewMockAdapter(MockAdapterConfig{Name: "a2", Seed: 2})
	gw := New(a1, newMemOrderLog(), nil)

	assert.Equal(t, "a1", gw.CurrentAdapterName())
	gw.SwapAdapter(a2)
	assert.Equal(t, "a2", gw.CurrentAdapterName())
}

func TestSelectionPriority_PicksInOrder(t *testing.T) {
	primary := NewMockAdapter(MockAdapterConfig{Name: "primary"})
	fallback := NewMockAdapter(MockAdapterConfig{Name: "fallback"})

	p := SelectionPriority{Primary: primary, MockFallback: fallback}
	chosen, err := p.Select()
	require.NoError(t, err)
	assert.Equal(t, "primary", chosen.Name())

	p = SelectionPriority{MockFallback: fallback}
	chosen, err = p.Select()
	require.NoError(t, err)
	assert.Equal(t, "fallback", chosen.Name())
}

func TestTokenBucket_AllowAndRefill(t *testing.T) {
	b := NewTokenBucket(1, 1000) // 1 token, refills fast for the test
	assert.True(t, b.Allow())
	assert.False(t, b.Allow())

	time.Sleep(5 * time.Millisecond)
	assert.True(t, b.Allow())
}

func TestMockAdapter_ClosePosition(t *testing.T) {
	adapter := NewMockAdapter(MockAdapterConfig{Seed: 1})
	ctx := context.Background()

	_, err := adapter.SendOrder(ctx, OrderRequest{
		Symbol: "ETHUSDT", Side: "BUY", SizeUnits: 2, LimitPrice: 3000, HasLimitPrice: true,
	})
	require.NoError(t, err)

	positions, err := adapter.GetPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	_, err = adapter.ClosePosition(ctx, "ETHUSDT")
	require.NoError(t, err)

	positions, _ = adapter.GetPositions(ctx)
	assert.Empty(t, positions)
}
