package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

const globalDelayKey = "global"

// GlobalLimiter tracks the API-wide request budget shared by every bucket.
type GlobalLimiter struct {
	mu        sync.Mutex
	perSecond int
	remaining int
	resetAt   time.Time
	clock     func() time.Time

	delays singleflight.Group
	timers atomic.Int64
}

// NewGlobalLimiter creates a limiter allowing perSecond requests per second.
func NewGlobalLimiter(perSecond int, clock func() time.Time) *GlobalLimiter {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &GlobalLimiter{perSecond: perSecond, remaining: perSecond, clock: clock}
}

// PerSecond returns the configured budget.
func (g *GlobalLimiter) PerSecond() int {
	return g.perSecond
}

// Limited reports whether the budget is spent and the window has not reset.
func (g *GlobalLimiter) Limited() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining <= 0 && g.clock().Before(g.resetAt)
}

// Acquire takes one request from the budget. When the budget is spent it
// takes nothing and returns the time left in the window. The check and the
// decrement share one critical section so parallel buckets cannot overshoot.
func (g *GlobalLimiter) Acquire() (time.Duration, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock()
	if g.remaining <= 0 && now.Before(g.resetAt) {
		return g.resetAt.Sub(now), false
	}
	if !now.Before(g.resetAt) {
		g.resetAt = now.Add(time.Second)
		g.remaining = g.perSecond
	}
	g.remaining--
	return 0, true
}

// Remaining returns the budget left in the current window.
func (g *GlobalLimiter) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.clock().Before(g.resetAt) {
		return g.perSecond
	}
	return g.remaining
}

// Trip marks the budget as exhausted for retryAfter, after a 429 flagged global.
func (g *GlobalLimiter) Trip(retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remaining = 0
	g.resetAt = g.clock().Add(retryAfter)
}

// TimeToReset returns how long until the window resets, plus offset.
func (g *GlobalLimiter) TimeToReset(offset time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resetAt.Add(offset).Sub(g.clock())
}

// Wait blocks until the shared global delay elapses. The first caller starts
// a single timer for d; callers arriving while it runs share that timer.
func (g *GlobalLimiter) Wait(ctx context.Context, d time.Duration) error {
	done := g.delays.DoChan(globalDelayKey, func() (any, error) {
		g.timers.Inc()
		if d > 0 {
			time.Sleep(d)
		}
		return nil, nil
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DelaysStarted returns how many global delay timers have been started.
func (g *GlobalLimiter) DelaysStarted() int64 {
	return g.timers.Load()
}
