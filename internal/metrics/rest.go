package metrics

import (
	"strconv"

	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
	"github.com/namelens/ratelane/internal/observability"
)

// Scheduler metric names
const (
	UpstreamRequestsTotal   = "rest_upstream_requests_total"
	RateLimitedTotal        = "rest_rate_limited_total"
	RateLimitWaitDuration   = "rest_rate_limit_wait_ms"
	InvalidRequestsWarnings = "rest_invalid_request_warnings_total"
	InvalidRequestsCount    = "rest_invalid_requests_window"
	HashesSweptTotal        = "rest_bucket_hashes_swept_total"
	HandlersSweptTotal      = "rest_handlers_swept_total"
	KnownBuckets            = "rest_known_buckets"
	ActiveHandlers          = "rest_active_handlers"
)

// RecordUpstreamResponse counts one completed upstream attempt.
func RecordUpstreamResponse(request core.APIRequest, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		UpstreamRequestsTotal,
		1,
		map[string]string{
			"method": request.Method,
			"route":  request.Route,
			"status": strconv.Itoa(status),
		},
	)
}

// RecordRateLimited counts a rate limit encounter and the wait it imposed.
func RecordRateLimited(data core.RateLimitData) {
	if observability.TelemetrySystem == nil {
		return
	}
	scope := "bucket"
	if data.Global {
		scope = "global"
	} else if data.SublimitTimeout > 0 {
		scope = "sublimit"
	}
	_ = observability.TelemetrySystem.Counter(
		RateLimitedTotal,
		1,
		map[string]string{
			"method": data.Method,
			"route":  data.Route,
			"scope":  scope,
		},
	)
	wait := data.TimeToReset
	if data.RetryAfter > wait {
		wait = data.RetryAfter
	}
	_ = observability.TelemetrySystem.Histogram(
		RateLimitWaitDuration,
		wait,
		map[string]string{"scope": scope},
	)
}

// RecordInvalidRequestWarning records the invalid request counter at warning time.
func RecordInvalidRequestWarning(warning core.InvalidRequestWarning) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(InvalidRequestsWarnings, 1, nil)
	_ = observability.TelemetrySystem.Gauge(InvalidRequestsCount, float64(warning.Count), nil)
}

// RecordHashSweep records evicted bucket hashes.
func RecordHashSweep(evicted int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(HashesSweptTotal, float64(evicted), nil)
}

// RecordHandlerSweep records evicted handlers.
func RecordHandlerSweep(evicted int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(HandlersSweptTotal, float64(evicted), nil)
}

// ObserveManager publishes registry sizes for m.
func ObserveManager(m *engine.Manager) {
	if observability.TelemetrySystem == nil || m == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(KnownBuckets, float64(m.Buckets().Len()), nil)
	_ = observability.TelemetrySystem.Gauge(ActiveHandlers, float64(m.Handlers().Len()), nil)
}

// Hooks returns scheduler hooks that emit the metrics above. Each hook also
// calls the matching hook in next when set.
func Hooks(next engine.Hooks) engine.Hooks {
	return engine.Hooks{
		OnDebug: next.OnDebug,
		OnRateLimited: func(data core.RateLimitData) {
			RecordRateLimited(data)
			if next.OnRateLimited != nil {
				next.OnRateLimited(data)
			}
		},
		OnInvalidRequestWarning: func(warning core.InvalidRequestWarning) {
			RecordInvalidRequestWarning(warning)
			if next.OnInvalidRequestWarning != nil {
				next.OnInvalidRequestWarning(warning)
			}
		},
		OnHashSweep: func(evicted map[string]core.BucketHash) {
			RecordHashSweep(len(evicted))
			if next.OnHashSweep != nil {
				next.OnHashSweep(evicted)
			}
		},
		OnHandlerSweep: func(evicted []string) {
			RecordHandlerSweep(len(evicted))
			if next.OnHandlerSweep != nil {
				next.OnHandlerSweep(evicted)
			}
		},
		OnResponse: func(request core.APIRequest, response *engine.Response) {
			if response != nil {
				RecordUpstreamResponse(request, response.StatusCode)
			}
			if next.OnResponse != nil {
				next.OnResponse(request, response)
			}
		},
	}
}
