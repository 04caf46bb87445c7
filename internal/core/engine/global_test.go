package engine

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestGlobalLimiterBudget(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewGlobalLimiter(2, func() time.Time { return now })

	require.False(t, limiter.Limited())
	_, ok := limiter.Acquire()
	require.True(t, ok)
	require.False(t, limiter.Limited())
	_, ok = limiter.Acquire()
	require.True(t, ok)
	require.True(t, limiter.Limited())
	require.Equal(t, time.Second, limiter.TimeToReset(0))

	now = now.Add(400 * time.Millisecond)
	wait, ok := limiter.Acquire()
	require.False(t, ok)
	require.Equal(t, 600*time.Millisecond, wait)
	require.Equal(t, 0, limiter.Remaining())

	now = now.Add(700 * time.Millisecond)
	require.False(t, limiter.Limited())
	_, ok = limiter.Acquire()
	require.True(t, ok)
	require.Equal(t, 1, limiter.Remaining())
}

func TestGlobalLimiterAcquireIsAtomic(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		runtime.Gosched()
		return now
	}
	limiter := NewGlobalLimiter(5, clock)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := limiter.Acquire(); ok {
				granted.Inc()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(5), granted.Load())
	require.Equal(t, 0, limiter.Remaining())
}

func TestGlobalLimiterTrip(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewGlobalLimiter(50, func() time.Time { return now })

	limiter.Trip(2 * time.Second)
	require.True(t, limiter.Limited())
	require.Equal(t, 2050*time.Millisecond, limiter.TimeToReset(50*time.Millisecond))

	now = now.Add(2 * time.Second)
	require.False(t, limiter.Limited())
}

func TestGlobalLimiterWaitIsSingleFlight(t *testing.T) {
	limiter := NewGlobalLimiter(50, nil)
	limiter.Trip(200 * time.Millisecond)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Wait(context.Background(), 200*time.Millisecond))
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Equal(t, int64(1), limiter.DelaysStarted())
	require.False(t, limiter.Limited())
}

func TestGlobalLimiterWaitCancelled(t *testing.T) {
	limiter := NewGlobalLimiter(50, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, limiter.Wait(ctx, time.Second), context.DeadlineExceeded)
}
