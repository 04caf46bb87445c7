package engine

import (
	"sync"
	"time"

	"github.com/namelens/ratelane/internal/core"
)

// InvalidRequestWindow is how long invalid requests accumulate before the count resets.
const InvalidRequestWindow = 10 * time.Minute

// InvalidRequestCounter counts 401, 403 and 429 responses in a rolling window.
// The server tracks invalid requests per IP, so one counter can be shared by
// every Manager in a process.
type InvalidRequestCounter struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
	clock   func() time.Time
}

// NewInvalidRequestCounter creates a counter using clock for window bookkeeping.
func NewInvalidRequestCounter(clock func() time.Time) *InvalidRequestCounter {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &InvalidRequestCounter{clock: clock}
}

// Increment records one invalid request. It reports a warning when interval is
// positive and the count is a multiple of it.
func (c *InvalidRequestCounter) Increment(interval int) (core.InvalidRequestWarning, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	if c.resetAt.IsZero() || c.resetAt.Before(now) {
		c.resetAt = now.Add(InvalidRequestWindow)
		c.count = 0
	}
	c.count++

	if interval <= 0 || c.count%interval != 0 {
		return core.InvalidRequestWarning{}, false
	}
	return core.InvalidRequestWarning{Count: c.count, RemainingTime: c.resetAt.Sub(now)}, true
}

// Count returns the invalid requests recorded in the current window.
func (c *InvalidRequestCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resetAt.IsZero() || c.resetAt.Before(c.clock()) {
		return 0
	}
	return c.count
}
