package engine

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/namelens/ratelane/internal/core"
)

var posInf = math.Inf(1)

// fallbackRetryAfter is used for a 429 that carries no Retry-After header.
const fallbackRetryAfter = time.Second

type ticketState int

const (
	ticketStandard ticketState = iota
	ticketSublimited
	ticketRunning
	ticketDone
)

func (s ticketState) String() string {
	switch s {
	case ticketStandard:
		return "standard"
	case ticketSublimited:
		return "sublimited"
	case ticketRunning:
		return "running"
	case ticketDone:
		return "done"
	default:
		return "unknown"
	}
}

var ticketTransitions = map[ticketState][]ticketState{
	ticketStandard:   {ticketSublimited, ticketRunning, ticketDone},
	ticketSublimited: {ticketRunning, ticketDone},
	ticketRunning:    {ticketDone},
}

// ticket tracks one request's position in a handler's queues and which queue
// turns it currently holds.
type ticket struct {
	state    ticketState
	standard *asyncQueue
	sublimit *asyncQueue
}

func (t *ticket) moveTo(next ticketState) error {
	for _, allowed := range ticketTransitions[t.state] {
		if allowed == next {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid request state transition %s -> %s", t.state, next)
}

// SequentialHandler sends requests for one bucket strictly one at a time, in
// submission order, while tracking the bucket's limit state.
type SequentialHandler struct {
	manager        *Manager
	id             string
	hash           string
	majorParameter string

	mu            sync.Mutex
	limit         float64
	remaining     float64
	resetAt       time.Time
	queue         *asyncQueue
	sublimitQueue *asyncQueue
	sublimitDrain chan struct{}

	// slot serializes network attempts between the standard and sublimit queues.
	slot chan struct{}
}

// NewSequentialHandler creates a handler for hash and majorParameter.
func NewSequentialHandler(manager *Manager, hash, majorParameter string) *SequentialHandler {
	return &SequentialHandler{
		manager:        manager,
		id:             hash + ":" + majorParameter,
		hash:           hash,
		majorParameter: majorParameter,
		limit:          posInf,
		remaining:      1,
		queue:          newAsyncQueue(),
		slot:           make(chan struct{}, 1),
	}
}

// ID returns "hash:majorParameter".
func (h *SequentialHandler) ID() string {
	return h.id
}

// Inactive reports whether the handler has no queued work and is not limited.
func (h *SequentialHandler) Inactive() bool {
	h.mu.Lock()
	sublimited := h.sublimitQueue != nil && h.sublimitQueue.remaining() > 0
	localLimited := h.localLimitedLocked(h.manager.now())
	h.mu.Unlock()

	return h.queue.remaining() == 0 && !sublimited && !localLimited && !h.manager.global.Limited()
}

// Limit returns the last known bucket limit.
func (h *SequentialHandler) Limit() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.limit
}

// Remaining returns the last known remaining requests in the bucket window.
func (h *SequentialHandler) Remaining() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remaining
}

// ResetAt returns when the bucket window resets.
func (h *SequentialHandler) ResetAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resetAt
}

// QueueRequest waits for the request's turn and runs it.
func (h *SequentialHandler) QueueRequest(ctx context.Context, route core.RouteID, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	t := &ticket{state: ticketStandard}

	h.mu.Lock()
	target := h.queue
	if h.sublimitQueue != nil && hasSublimit(route.BucketRoute, req.Data, req.Method) {
		target = h.sublimitQueue
		if err := t.moveTo(ticketSublimited); err != nil {
			h.mu.Unlock()
			return nil, err
		}
	}
	turn := target.enqueue()
	h.mu.Unlock()

	if err := target.await(ctx, turn); err != nil {
		h.release(t)
		return nil, cancelled(ctx)
	}
	if t.state == ticketSublimited {
		t.sublimit = target
	} else {
		t.standard = target
	}
	defer h.release(t)

	if t.state == ticketStandard {
		if err := h.settleStandard(ctx, route, req, t); err != nil {
			return nil, err
		}
	}

	if err := t.moveTo(ticketRunning); err != nil {
		return nil, err
	}
	return h.runRequest(ctx, route, req, t)
}

// settleStandard moves a standard request that now matches an active sublimit
// into the sublimit queue, or holds it until the sublimit queue drains.
func (h *SequentialHandler) settleStandard(ctx context.Context, route core.RouteID, req *Request, t *ticket) error {
	h.mu.Lock()
	if sublimitQueue := h.sublimitQueue; sublimitQueue != nil && hasSublimit(route.BucketRoute, req.Data, req.Method) {
		turn := sublimitQueue.enqueue()
		h.mu.Unlock()

		t.standard.shift()
		t.standard = nil
		if err := t.moveTo(ticketSublimited); err != nil {
			return err
		}
		if err := sublimitQueue.await(ctx, turn); err != nil {
			return cancelled(ctx)
		}
		t.sublimit = sublimitQueue
		return nil
	}

	drain := h.sublimitDrain
	h.mu.Unlock()
	if drain == nil {
		return nil
	}
	select {
	case <-drain:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

// release gives up every queue turn t holds and retires a drained sublimit queue.
func (h *SequentialHandler) release(t *ticket) {
	if t.standard != nil {
		t.standard.shift()
		t.standard = nil
	}
	if t.sublimit != nil {
		t.sublimit.shift()
		t.sublimit = nil
	}
	_ = t.moveTo(ticketDone)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sublimitQueue != nil && h.sublimitQueue.remaining() == 0 {
		if h.sublimitDrain != nil {
			close(h.sublimitDrain)
			h.sublimitDrain = nil
		}
		h.sublimitQueue = nil
	}
}

func (h *SequentialHandler) acquireSlot(ctx context.Context) error {
	select {
	case h.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return cancelled(ctx)
	}
}

func (h *SequentialHandler) releaseSlot() {
	<-h.slot
}

// runRequest dispatches req until it succeeds, fails terminally, or runs out
// of retries. Rate limit waits do not count as retries.
func (h *SequentialHandler) runRequest(ctx context.Context, route core.RouteID, req *Request, t *ticket) (*Response, error) {
	m := h.manager
	retries := 0

	for {
		if err := h.acquireSlot(ctx); err != nil {
			return nil, err
		}
		if err := h.waitForLimits(ctx, route, req); err != nil {
			h.releaseSlot()
			return nil, err
		}

		resp, retry, err := m.execute(ctx, route, req, retries)
		if err != nil {
			h.releaseSlot()
			return nil, err
		}
		if retry {
			h.releaseSlot()
			retries++
			continue
		}

		headers, sublimitTimeout := h.applyHeaders(route, req, resp)
		h.releaseSlot()

		m.countInvalid(resp.StatusCode)

		if resp.OK() {
			return resp, nil
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			handled, retry, err := m.handleErrors(resp, req, retries)
			if err != nil {
				return nil, err
			}
			if retry {
				retries++
				continue
			}
			return handled, nil
		}

		data := h.rateLimitData(route, req, headers.retryAfter, sublimitTimeout, headers.scope)
		if err := m.onRateLimit(ctx, data, req); err != nil {
			return nil, err
		}
		h.debug(strings.Join([]string{
			"Encountered unexpected 429 rate limit",
			fmt.Sprintf("  Global         : %t", data.Global),
			fmt.Sprintf("  Method         : %s", req.Method),
			fmt.Sprintf("  URL            : %s", req.URL),
			fmt.Sprintf("  Bucket         : %s", route.BucketRoute),
			fmt.Sprintf("  Major parameter: %s", route.MajorParameter),
			fmt.Sprintf("  Hash           : %s", h.hash),
			fmt.Sprintf("  Limit          : %v", data.Limit),
			fmt.Sprintf("  Retry After    : %s", headers.retryAfter),
			fmt.Sprintf("  Sublimit       : %s", sublimitLabel(sublimitTimeout)),
			fmt.Sprintf("  Scope          : %s", headers.scope),
		}, "\n"))

		if sublimitTimeout > 0 {
			if err := h.enterSublimit(ctx, t, sublimitTimeout); err != nil {
				return nil, err
			}
		}
	}
}

// waitForLimits blocks while the bucket or global limit is exhausted and
// returns once one unit of global budget has been taken for the request.
func (h *SequentialHandler) waitForLimits(ctx context.Context, route core.RouteID, req *Request) error {
	m := h.manager
	for {
		offset := m.opts.offsetFor(route.BucketRoute)
		h.mu.Lock()
		now := m.now()
		local := h.localLimitedLocked(now)
		limit := h.limit
		localWait := h.resetAt.Add(offset).Sub(now)
		h.mu.Unlock()

		// The bucket is checked first so a request held by its own bucket
		// never spends global budget. Acquire consumes on success.
		global := false
		wait := localWait
		if !local {
			globalWait, ok := m.global.Acquire()
			if ok {
				return nil
			}
			global = true
			limit = float64(m.global.PerSecond())
			wait = globalWait + offset
		}

		data := core.RateLimitData{
			Global:         global,
			Method:         req.Method,
			URL:            req.URL,
			Route:          route.BucketRoute,
			MajorParameter: h.majorParameter,
			Hash:           h.hash,
			Limit:          limit,
			TimeToReset:    wait,
			RetryAfter:     wait,
			Scope:          core.ScopeUser,
		}
		m.hooks.rateLimited(data)
		if err := m.onRateLimit(ctx, data, req); err != nil {
			return err
		}

		var err error
		if global {
			h.debug(fmt.Sprintf("Global rate limit hit, blocking all requests for %s", wait))
			err = m.global.Wait(ctx, wait)
		} else {
			h.debug(fmt.Sprintf("Waiting %s for rate limit to pass", wait))
			err = sleep(ctx, wait)
		}
		if err != nil {
			return cancelled(ctx)
		}
	}
}

// applyHeaders records the bucket state reported by resp and returns the
// parsed headers with the sublimit timeout, if the response signals one.
func (h *SequentialHandler) applyHeaders(route core.RouteID, req *Request, resp *Response) (rateLimitHeaders, time.Duration) {
	m := h.manager
	headers := parseRateLimitHeaders(resp.Header)
	offset := m.opts.offsetFor(route.BucketRoute)

	if headers.retryAfter > 0 {
		headers.retryAfter += offset
	} else if resp.StatusCode == http.StatusTooManyRequests {
		headers.retryAfter = fallbackRetryAfter + offset
	}

	h.mu.Lock()
	now := m.now()
	h.limit = headers.limit
	h.remaining = math.Max(0, math.Min(headers.remaining, headers.limit))
	next := now
	if headers.hasReset {
		next = now.Add(headers.resetAfter + offset)
	}
	if next.After(h.resetAt) {
		h.resetAt = next
	}
	localLimited := h.localLimitedLocked(now)
	h.mu.Unlock()

	m.recordBucket(route, req.Method, h.hash, headers.bucket, h.debug)

	var sublimitTimeout time.Duration
	if headers.retryAfter > 0 && resp.StatusCode == http.StatusTooManyRequests {
		if headers.global {
			m.global.Trip(headers.retryAfter)
		} else if !localLimited {
			sublimitTimeout = headers.retryAfter
		}
	}
	return headers, sublimitTimeout
}

// enterSublimit parks the bucket's sublimited requests behind t, sleeps out
// timeout while standard requests keep flowing, then holds standard requests
// until the sublimit queue drains.
func (h *SequentialHandler) enterSublimit(ctx context.Context, t *ticket, timeout time.Duration) error {
	h.mu.Lock()
	if h.sublimitQueue == nil {
		sublimitQueue := newAsyncQueue()
		sublimitQueue.enqueue()
		h.sublimitQueue = sublimitQueue
		t.sublimit = sublimitQueue
		if t.standard != nil {
			t.standard.shift()
			t.standard = nil
		}
	}
	if h.sublimitDrain != nil {
		close(h.sublimitDrain)
		h.sublimitDrain = nil
	}
	h.mu.Unlock()

	if err := sleep(ctx, timeout); err != nil {
		return cancelled(ctx)
	}

	h.mu.Lock()
	if h.sublimitQueue != nil && h.sublimitDrain == nil {
		h.sublimitDrain = make(chan struct{})
	}
	h.mu.Unlock()
	return nil
}

func (h *SequentialHandler) rateLimitData(route core.RouteID, req *Request, retryAfter, sublimitTimeout time.Duration, scope core.RateLimitScope) core.RateLimitData {
	m := h.manager
	global := m.global.Limited()
	offset := m.opts.offsetFor(route.BucketRoute)

	limit := float64(m.global.PerSecond())
	timeToReset := m.global.TimeToReset(offset)
	if !global {
		h.mu.Lock()
		limit = h.limit
		timeToReset = h.resetAt.Add(offset).Sub(m.now())
		h.mu.Unlock()
	}

	return core.RateLimitData{
		Global:          global,
		Method:          req.Method,
		URL:             req.URL,
		Route:           route.BucketRoute,
		MajorParameter:  h.majorParameter,
		Hash:            h.hash,
		Limit:           limit,
		TimeToReset:     timeToReset,
		RetryAfter:      retryAfter,
		SublimitTimeout: sublimitTimeout,
		Scope:           scope,
	}
}

func (h *SequentialHandler) localLimitedLocked(now time.Time) bool {
	return h.remaining <= 0 && now.Before(h.resetAt)
}

func (h *SequentialHandler) debug(message string) {
	h.manager.hooks.debug("[REST " + h.id + "] " + message)
}

func sublimitLabel(timeout time.Duration) string {
	if timeout <= 0 {
		return "None"
	}
	return timeout.String()
}
