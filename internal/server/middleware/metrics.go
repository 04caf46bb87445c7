package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/observability"
)

// proxyPrefix is the default mount point of the scheduler proxy.
const proxyPrefix = "/api"

// ProxyResponsesTotal counts proxied responses by upstream rate limit scope.
const ProxyResponsesTotal = "proxy_responses_total"

// responseWriter captures the status code and response size.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// EndpointPattern returns a low-cardinality label for r: the chi route
// pattern when routed, otherwise a fixed bucket per known path.
func EndpointPattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	if path == proxyPrefix || strings.HasPrefix(path, proxyPrefix+"/") {
		return proxyPrefix + "/*"
	}
	switch path {
	case "/health", "/health/live", "/health/ready", "/health/startup":
		return "/health/*"
	case "/version", "/metrics", "/buckets", "/":
		return path
	default:
		return "/unknown"
	}
}

// RequestMetrics emits gofulmen telemetry for each request and logs its
// completion with the upstream bucket, when the proxy reported one.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		sample := requestSample{
			method:      r.Method,
			endpoint:    EndpointPattern(r),
			status:      wrapped.statusCode,
			duration:    time.Since(start),
			requestSize: contentLength(r),
			written:     wrapped.bytesWritten,
			bucket:      wrapped.Header().Get("X-RateLimit-Bucket"),
			scope:       wrapped.Header().Get("X-RateLimit-Scope"),
		}
		sample.emit()

		if observability.ServerLogger != nil {
			observability.ServerLogger.Info("HTTP request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", sample.endpoint),
				zap.Int("status", sample.status),
				zap.Duration("duration", sample.duration),
				zap.Int64("request_size", sample.requestSize),
				zap.Int64("response_size", sample.written),
				zap.String("upstream_bucket", sample.bucket),
				zap.String("requestID", GetRequestID(r.Context())),
			)
		}
	})
}

type requestSample struct {
	method      string
	endpoint    string
	status      int
	duration    time.Duration
	requestSize int64
	written     int64
	bucket      string
	scope       string
}

func (s requestSample) emit() {
	sys := observability.TelemetrySystem
	status := strconv.Itoa(s.status)
	labels := map[string]string{"method": s.method, "endpoint": s.endpoint, "status": status}
	sizeLabels := map[string]string{"method": s.method, "endpoint": s.endpoint}

	_ = sys.Counter("http_requests_total", 1, labels)
	_ = sys.Histogram("http_request_duration_ms", s.duration, labels)
	_ = sys.Gauge("http_request_size_bytes", float64(s.requestSize), sizeLabels)
	_ = sys.Gauge("http_response_size_bytes", float64(s.written), sizeLabels)

	if s.status >= 400 {
		errorType := "client_error"
		if s.status >= 500 {
			errorType = "server_error"
		}
		_ = sys.Counter("http_errors_total", 1, map[string]string{
			"method":     s.method,
			"endpoint":   s.endpoint,
			"status":     status,
			"error_type": errorType,
		})
	}

	if s.bucket != "" || s.scope != "" {
		scope := s.scope
		if scope == "" {
			scope = "user"
		}
		_ = sys.Counter(ProxyResponsesTotal, 1, map[string]string{
			"method": s.method,
			"scope":  scope,
			"status": status,
		})
	}
}

func contentLength(r *http.Request) int64 {
	value := r.Header.Get("Content-Length")
	if value == "" {
		return 0
	}
	size, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return size
}
