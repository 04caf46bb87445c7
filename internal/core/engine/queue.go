package engine

import (
	"context"
	"sync"
	"time"
)

// asyncQueue hands out turns in arrival order. The head entry holds the turn
// until it shifts itself off the queue.
type asyncQueue struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

func newAsyncQueue() *asyncQueue {
	return &asyncQueue{}
}

// enqueue appends an entry. The returned channel closes when the entry
// reaches the head of the queue.
func (q *asyncQueue) enqueue() chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	turn := make(chan struct{})
	q.waiters = append(q.waiters, turn)
	if len(q.waiters) == 1 {
		close(turn)
	}
	return turn
}

// await blocks until turn is granted. On cancellation the entry leaves the
// queue, passing the turn along if it already held it.
func (q *asyncQueue) await(ctx context.Context, turn chan struct{}) error {
	select {
	case <-turn:
		return nil
	default:
	}

	select {
	case <-turn:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		for i, waiter := range q.waiters {
			if waiter != turn {
				continue
			}
			if i == 0 {
				q.shiftLocked()
			} else {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			}
			break
		}
		return ctx.Err()
	}
}

// shift releases the head entry and grants the next one.
func (q *asyncQueue) shift() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shiftLocked()
}

func (q *asyncQueue) shiftLocked() {
	if len(q.waiters) == 0 {
		return
	}
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]
	if len(q.waiters) > 0 {
		close(q.waiters[0])
	}
}

func (q *asyncQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
