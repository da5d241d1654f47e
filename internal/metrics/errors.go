package metrics

import (
	"strconv"

	"github.com/clawpulse/syncrelay/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName      = "errors_total"
	PanicsTotalName      = "panics_total"
	ErrorsByEndpointName = "errors_by_endpoint"
)

// RecordError counts an error response by envelope code and status.
func RecordError(errorCode string, httpStatus int) {
	count(ErrorsTotalName, map[string]string{
		"error_code":  errorCode,
		"http_status": strconv.Itoa(httpStatus),
	})
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	count(PanicsTotalName, nil)
}

// RecordErrorByEndpoint counts an error against a route pattern. Callers
// must pass the pattern, never the raw path, since sync paths carry tokens.
func RecordErrorByEndpoint(endpoint string, errorCode string) {
	count(ErrorsByEndpointName, map[string]string{
		"endpoint":   endpoint,
		"error_code": errorCode,
	})
}

func count(name string, labels map[string]string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(name, 1, labels)
}
