package metrics

import (
	"time"

	"github.com/namelens/ratelane/internal/observability"
)

// Application-level metric names
const (
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"
	ServerStartTime     = "app_server_start_time_seconds"
	HashesRestored      = "app_bucket_hashes_restored"
	HashesPersisted     = "app_bucket_hashes_persisted"
)

// RecordHealthCheck records one health check execution and its result
// (healthy, degraded, unhealthy).
func RecordHealthCheck(checkName, status string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  checkName,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": checkName},
	)
}

// SetServerStartTime records when the proxy started serving.
func SetServerStartTime(started time.Time) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(started.Unix()), nil)
}

// RecordHashesRestored records how many bucket hashes were warm-started from
// the store, labelled by store driver.
func RecordHashesRestored(driver string, count int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(HashesRestored, float64(count), map[string]string{"driver": driver})
}

// RecordHashesPersisted records how many bucket hashes were written on shutdown.
func RecordHashesPersisted(driver string, count int) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Gauge(HashesPersisted, float64(count), map[string]string{"driver": driver})
}
