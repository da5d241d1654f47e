package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/clawpulse/syncrelay/internal/config"
)

// DefaultMetricsPort is reported when the exporter's bound address cannot
// be read back.
const DefaultMetricsPort = 9090

var (
	// TelemetrySystem receives relay, sweep and HTTP metrics. While it is
	// nil every helper in internal/metrics is a no-op.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint that /metrics proxies.
	PrometheusExporter *exporters.PrometheusExporter

	// metricsPort is the port PrometheusExporter actually bound.
	metricsPort int
)

// InitMetrics starts a Prometheus exporter under namespace (config.AppName
// when empty) and installs the telemetry system that emits through it.
// Port 0 binds a free port; GetMetricsPort reports the one chosen. A
// previously started exporter is stopped first, so serve can call this
// again on reload.
func InitMetrics(namespace string, port int) error {
	if namespace == "" {
		namespace = config.AppName
	}
	if port < 0 {
		port = 0
	}

	if err := ShutdownMetrics(); err != nil {
		return fmt.Errorf("stop previous metrics exporter: %w", err)
	}

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start metrics exporter on port %d: %w", port, err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: exporter,
	})
	if err != nil {
		_ = exporter.Stop()
		return fmt.Errorf("create telemetry system: %w", err)
	}

	PrometheusExporter = exporter
	TelemetrySystem = sys
	metricsPort = boundPort(exporter.GetAddr(), port)
	return nil
}

// ShutdownMetrics stops the exporter and disables emission.
func ShutdownMetrics() error {
	exporter := PrometheusExporter
	TelemetrySystem = nil
	PrometheusExporter = nil
	metricsPort = 0
	if exporter == nil {
		return nil
	}
	return exporter.Stop()
}

// GetMetricsPort returns the port the exporter is listening on, or 0 when
// metrics are disabled.
func GetMetricsPort() int {
	return metricsPort
}

// boundPort prefers the address the listener reports; a fixed request is
// trusted as-is and an ephemeral one falls back to DefaultMetricsPort.
func boundPort(addr string, requested int) int {
	if _, portStr, err := net.SplitHostPort(addr); err == nil {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return port
		}
	}
	if requested == 0 {
		return DefaultMetricsPort
	}
	return requested
}
