package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/namelens/ratelane/internal/core/engine"
)

// MaxProxyBodyBytes caps request bodies accepted by the proxy.
const MaxProxyBodyBytes = 25 << 20

// Submitter sends a request through the scheduler.
type Submitter interface {
	Submit(ctx context.Context, method, fullPath string, opts engine.RequestOptions) (*engine.Response, error)
}

// forwardedRequestHeaders are copied from the caller onto the upstream request.
var forwardedRequestHeaders = []string{
	"Content-Type",
	"X-Audit-Log-Reason",
	"Accept-Language",
}

// hopHeaders are never copied back from the upstream response.
var hopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Content-Length":      {},
}

// Proxy forwards calls under a path prefix through the scheduler so every
// caller shares one view of the upstream rate limits.
type Proxy struct {
	submitter Submitter
	prefix    string
}

// NewProxy returns a proxy for requests mounted under prefix.
func NewProxy(submitter Submitter, prefix string) *Proxy {
	return &Proxy{submitter: submitter, prefix: "/" + strings.Trim(prefix, "/")}
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p == nil || p.submitter == nil {
		respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "scheduler not initialized"))
		return
	}

	routePath := p.upstreamPath(r.URL.Path)
	if routePath == "" || routePath == "/" {
		respondWithError(w, r, gferrors.NewErrorEnvelope("INVALID_INPUT", "missing upstream route"))
		return
	}
	if r.URL.RawQuery != "" {
		routePath += "?" + r.URL.RawQuery
	}

	opts := engine.RequestOptions{Headers: map[string]string{}}
	for _, key := range forwardedRequestHeaders {
		if value := r.Header.Get(key); value != "" {
			opts.Headers[key] = value
		}
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		opts.NoAuth = true
		opts.Headers["Authorization"] = auth
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxProxyBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondWithError(w, r, gferrors.NewErrorEnvelope("INVALID_INPUT", fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
				return
			}
			respondWithError(w, r, gferrors.NewErrorEnvelope("INVALID_INPUT", "unable to read request body"))
			return
		}
		if len(body) > 0 {
			opts.Body = body
			opts.PassThroughBody = true
		}
	}

	resp, err := p.submitter.Submit(r.Context(), r.Method, routePath, opts)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	for key, values := range resp.Header {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// upstreamPath strips the mount prefix. A leading /v{N} segment is dropped
// in favour of the scheduler's configured version.
func (p *Proxy) upstreamPath(requestPath string) string {
	rest := strings.TrimPrefix(requestPath, p.prefix)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	segment, remainder, _ := strings.Cut(strings.TrimPrefix(rest, "/"), "/")
	if isVersionSegment(segment) {
		return "/" + remainder
	}
	return rest
}

func isVersionSegment(segment string) bool {
	if len(segment) < 2 || segment[0] != 'v' {
		return false
	}
	for _, r := range segment[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
