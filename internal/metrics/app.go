package metrics

import (
	"time"

	"github.com/clawpulse/syncrelay/internal/observability"
)

// Application-level metrics following Prometheus conventions
var (
	// Relay operation metrics
	RelayOperationsTotal   = "relay_operations_total"
	RelayOperationDuration = "relay_operation_duration_ms"
	RelayPayloadBytes      = "relay_payload_bytes"
	RelayThrottledTotal    = "relay_throttled_total"
	RelayLazyExpiredTotal  = "relay_lazy_expired_total"

	// Sweep metrics
	SweepRunsTotal    = "relay_sweep_runs_total"
	SweepRemovedTotal = "relay_sweep_removed_total"
	SweepDuration     = "relay_sweep_duration_ms"
	RateWindowsPruned = "relay_rate_windows_pruned_total"

	// Health check metrics
	HealthCheckTotal    = "app_health_check_total"
	HealthCheckDuration = "app_health_check_duration_ms"

	// Server lifecycle metrics
	ServerStartTime = "app_server_start_time_seconds"
	ServerUptime    = "app_server_uptime_seconds"
)

// RecordRelayOperation records one relay operation with its outcome
// (ok, not_found, too_large, throttled, invalid, forbidden, error).
func RecordRelayOperation(operation string, outcome string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RelayOperationsTotal,
			1,
			map[string]string{
				"operation": operation,
				"outcome":   outcome,
			},
		)

		_ = observability.TelemetrySystem.Histogram(
			RelayOperationDuration,
			duration,
			map[string]string{
				"operation": operation,
			},
		)
	}
}

// RecordPayloadSize records the size of an accepted payload.
func RecordPayloadSize(bytes int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			RelayPayloadBytes,
			float64(bytes),
			nil,
		)
	}
}

// RecordThrottle records a request refused by the rate limiter.
func RecordThrottle(class string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RelayThrottledTotal,
			1,
			map[string]string{
				"class": class,
			},
		)
	}
}

// RecordLazyExpiry records a read that found an expired record.
func RecordLazyExpiry() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RelayLazyExpiredTotal,
			1,
			nil,
		)
	}
}

// RecordSweep records one sweep pass.
func RecordSweep(removed int64, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}

	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			SweepRunsTotal,
			1,
			map[string]string{
				"status": status,
			},
		)

		if removed > 0 {
			_ = observability.TelemetrySystem.Counter(
				SweepRemovedTotal,
				float64(removed),
				nil,
			)
		}

		_ = observability.TelemetrySystem.Histogram(
			SweepDuration,
			duration,
			nil,
		)
	}
}

// RecordRateWindowsPruned records idle rate windows dropped by the sweeper.
func RecordRateWindowsPruned(count int) {
	if count <= 0 {
		return
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			RateWindowsPruned,
			float64(count),
			nil,
		)
	}
}

// RecordHealthCheck records a health check execution
func RecordHealthCheck(checkName string, healthy bool, duration time.Duration) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	if observability.TelemetrySystem != nil {
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
			map[string]string{
				"check": checkName,
			},
		)
	}
}

// SetServerStartTime records the server start time (Unix timestamp)
func SetServerStartTime(timestamp int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerStartTime,
			float64(timestamp),
			nil,
		)
	}
}

// SetServerUptime records the server uptime in seconds
func SetServerUptime(seconds int64) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			ServerUptime,
			float64(seconds),
			nil,
		)
	}
}
