package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncQueueGrantsTurnsInOrder(t *testing.T) {
	q := newAsyncQueue()

	first := q.enqueue()
	second := q.enqueue()
	third := q.enqueue()
	require.Equal(t, 3, q.remaining())

	require.NoError(t, q.await(context.Background(), first))
	requireBlocked(t, second)

	q.shift()
	require.NoError(t, q.await(context.Background(), second))
	requireBlocked(t, third)

	q.shift()
	require.NoError(t, q.await(context.Background(), third))
	q.shift()
	require.Equal(t, 0, q.remaining())
}

func TestAsyncQueueCancelledWaiterLeaves(t *testing.T) {
	q := newAsyncQueue()
	head := q.enqueue()
	middle := q.enqueue()
	tail := q.enqueue()
	require.NoError(t, q.await(context.Background(), head))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, q.await(ctx, middle), context.Canceled)
	require.Equal(t, 2, q.remaining())

	q.shift()
	require.NoError(t, q.await(context.Background(), tail))
}

func TestAsyncQueueCancelledHeadKeepsTurn(t *testing.T) {
	q := newAsyncQueue()
	head := q.enqueue()
	next := q.enqueue()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The head already holds its turn, so a cancelled await returns nil
	// without touching the queue.
	require.NoError(t, q.await(ctx, head))
	q.shift()
	require.NoError(t, q.await(context.Background(), next))
}

func TestAsyncQueueConcurrentWaiters(t *testing.T) {
	q := newAsyncQueue()
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	turns := make([]chan struct{}, 5)
	for i := range turns {
		turns[i] = q.enqueue()
	}
	for i := range turns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, q.await(context.Background(), turns[i]))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			q.shift()
		}(i)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSleepHonoursContext(t *testing.T) {
	require.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}

func requireBlocked(t *testing.T, turn chan struct{}) {
	t.Helper()
	select {
	case <-turn:
		t.Fatal("expected turn to be pending")
	default:
	}
}
