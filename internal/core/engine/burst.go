package engine

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/atomic"

	"github.com/namelens/ratelane/internal/core"
)

// BurstHandler sends requests as soon as they arrive, without ordering. It is
// only used for routes that tolerate unordered dispatch.
type BurstHandler struct {
	manager        *Manager
	id             string
	hash           string
	majorParameter string
	inflight       atomic.Int64
}

// NewBurstHandler creates a burst handler for hash and majorParameter.
func NewBurstHandler(manager *Manager, hash, majorParameter string) *BurstHandler {
	return &BurstHandler{
		manager:        manager,
		id:             hash + ":" + majorParameter,
		hash:           hash,
		majorParameter: majorParameter,
	}
}

// ID returns "hash:majorParameter".
func (h *BurstHandler) ID() string {
	return h.id
}

// Inactive reports whether no request is in flight.
func (h *BurstHandler) Inactive() bool {
	return h.inflight.Load() == 0
}

// QueueRequest runs req immediately.
func (h *BurstHandler) QueueRequest(ctx context.Context, route core.RouteID, req *Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	h.inflight.Inc()
	defer h.inflight.Dec()

	m := h.manager
	retries := 0
	for {
		resp, retry, err := m.execute(ctx, route, req, retries)
		if err != nil {
			return nil, err
		}
		if retry {
			retries++
			continue
		}

		headers := parseRateLimitHeaders(resp.Header)
		m.recordBucket(route, req.Method, h.hash, headers.bucket, h.debug)
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

		retryAfter := headers.retryAfter
		if retryAfter <= 0 {
			retryAfter = fallbackRetryAfter
		}
		retryAfter += m.opts.offsetFor(route.BucketRoute)

		data := core.RateLimitData{
			Global:         headers.global,
			Method:         req.Method,
			URL:            req.URL,
			Route:          route.BucketRoute,
			MajorParameter: h.majorParameter,
			Hash:           h.hash,
			Limit:          posInf,
			TimeToReset:    retryAfter,
			RetryAfter:     retryAfter,
			Scope:          headers.scope,
		}
		if err := m.onRateLimit(ctx, data, req); err != nil {
			return nil, err
		}
		h.debug(fmt.Sprintf("Encountered 429 on burst route %s, retrying in %s", route.BucketRoute, retryAfter))

		if err := sleep(ctx, retryAfter); err != nil {
			return nil, cancelled(ctx)
		}
	}
}

func (h *BurstHandler) debug(message string) {
	h.manager.hooks.debug("[REST " + h.id + "] " + message)
}
