package engine

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/namelens/ratelane/internal/core"
)

// Handler schedules requests for one bucket and major parameter.
type Handler interface {
	ID() string
	Inactive() bool
	QueueRequest(ctx context.Context, route core.RouteID, req *Request) (*Response, error)
}

// Request is a fully resolved request ready for dispatch.
type Request struct {
	Method       string
	URL          string
	Header       http.Header
	Body         []byte
	Data         any
	Auth         bool
	RejectPolicy RejectPolicy
}

// Response is a completed response with its body read into memory.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// IsJSON reports whether the response declares a JSON body.
func (r *Response) IsJSON() bool {
	if r == nil {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// Decode unmarshals a JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// ParseResponse decodes JSON bodies and returns any other body as raw bytes.
func ParseResponse(r *Response) (any, error) {
	if r == nil {
		return nil, nil
	}
	if !r.IsJSON() || len(r.Body) == 0 {
		return r.Body, nil
	}
	var out any
	if err := r.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// rateLimitHeaders is the rate limit state reported by a response.
type rateLimitHeaders struct {
	limit      float64
	remaining  float64
	resetAfter time.Duration
	hasReset   bool
	bucket     string
	retryAfter time.Duration
	global     bool
	scope      core.RateLimitScope
}

func parseRateLimitHeaders(header http.Header) rateLimitHeaders {
	out := rateLimitHeaders{
		limit:     posInf,
		remaining: 1,
		bucket:    header.Get("X-RateLimit-Bucket"),
		global:    header.Get("X-RateLimit-Global") != "",
		scope:     core.ScopeUser,
	}
	if value, ok := headerFloat(header, "X-RateLimit-Limit"); ok {
		out.limit = value
	}
	if value, ok := headerFloat(header, "X-RateLimit-Remaining"); ok {
		out.remaining = value
	}
	if value, ok := headerFloat(header, "X-RateLimit-Reset-After"); ok {
		out.resetAfter = seconds(value)
		out.hasReset = true
	}
	if value, ok := headerFloat(header, "Retry-After"); ok && value > 0 {
		out.retryAfter = seconds(value)
	}
	if scope := strings.TrimSpace(header.Get("X-RateLimit-Scope")); scope != "" {
		out.scope = core.RateLimitScope(scope)
	}
	return out
}

func headerFloat(header http.Header, key string) (float64, bool) {
	raw := strings.TrimSpace(header.Get(key))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}
