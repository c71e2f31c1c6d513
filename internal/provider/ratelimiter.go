package provider

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket guarding calls to the subgraph. The Graph's
// gateway throttles free API keys aggressively, so every request path goes
// through Wait first.
type RateLimiter struct {
	mu         sync.Mutex
	available  int
	capacity   int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter allows a burst of capacity calls, refilling one token every
// refillRate.
func NewRateLimiter(capacity int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{
		available:  capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *RateLimiter) Wait(ctx context.Context) error {
	for {
		if l.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.refillRate):
		}
	}
}

func (l *RateLimiter) take() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if refilled := int(now.Sub(l.lastRefill) / l.refillRate); refilled > 0 {
		l.available += refilled
		if l.available > l.capacity {
			l.available = l.capacity
		}
		l.lastRefill = l.lastRefill.Add(time.Duration(refilled) * l.refillRate)
	}

	if l.available == 0 {
		return false
	}
	l.available--
	return true
}
