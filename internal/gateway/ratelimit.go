package gateway

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a minimal per-venue rate limiter. golang.org/x/time/rate
// never appears as a direct dependency in any pack repo's go.mod, so this
// is a small hand-rolled bucket rather than a fabricated dependency.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

// NewTokenBucket builds a bucket with the given capacity and refill rate
// (tokens/second), starting full.
func NewTokenBucket(capacity, refillPerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillPerSecond,
		last:       time.Now(),
	}
}

func (b *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// Allow consumes one token if available, without blocking.
func (b *TokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	for {
		if b.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
