package handlers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	"github.com/clawpulse/syncrelay/internal/metrics"
)

// Probe names and their check budgets.
const (
	ProbeAggregate = "aggregate"
	ProbeLive      = "live"
	ProbeReady     = "ready"
	ProbeStartup   = "startup"
)

var probeTimeouts = map[string]time.Duration{
	ProbeAggregate: 5 * time.Second,
	ProbeLive:      2 * time.Second,
	ProbeReady:     5 * time.Second,
	ProbeStartup:   3 * time.Second,
}

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProbeResponse represents individual probe response
type ProbeResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthManager manages health checks and probe states
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]HealthChecker),
		version:  version,
	}
}

// RegisterChecker registers a health checker
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = checker
}

// Check runs every registered checker and returns the overall status with
// per-check results. The CLI health command shares it with the probes.
func (hm *HealthManager) Check(ctx context.Context) (string, map[string]string) {
	checks := hm.runHealthChecks(ctx)
	return hm.determineOverallStatus(checks), checks
}

// runHealthChecks executes all registered health checks in name order
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(hm.checkers))
	for name, checker := range hm.checkers {
		checkers[name] = checker
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = "timeout"
			continue
		}

		start := time.Now()
		err := checkers[name].CheckHealth(ctx)
		metrics.RecordHealthCheck(name, err == nil, time.Since(start))
		if err != nil {
			checks[name] = "unhealthy"
		} else {
			checks[name] = "healthy"
		}
	}

	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		if status == "unhealthy" {
			return "unhealthy"
		}
		if status == "degraded" || status == "timeout" {
			degraded = true
		}
	}

	if degraded {
		return "degraded"
	}

	return "healthy"
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.probe(w, r, ProbeAggregate)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Message:   AppName + " is running",
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler handles liveness probe requests
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, ProbeLive)
}

// ReadinessHandler handles readiness probe requests
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, ProbeReady)
}

// StartupHandler handles startup probe requests
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.probeHandler(w, r, ProbeStartup)
}

func (hm *HealthManager) probeHandler(w http.ResponseWriter, r *http.Request, probe string) {
	status, _, ok := hm.probe(w, r, probe)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, ProbeResponse{
		Status:    status,
		Timestamp: time.Now().UTC(),
	})
}

// probe runs the checks under the probe's budget and writes the 503 envelope
// itself when the result is unhealthy.
func (hm *HealthManager) probe(w http.ResponseWriter, r *http.Request, probe string) (string, map[string]string, bool) {
	checkCtx, cancel := context.WithTimeout(r.Context(), probeTimeouts[probe])
	defer cancel()

	status, checks := hm.Check(checkCtx)
	if status == "unhealthy" {
		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", probe+" health check failed")
		envelope = enrichHealthEnvelope(envelope, probe, status, checks)
		respondWithError(w, r, envelope)
		return status, checks, false
	}

	return status, checks, true
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, probe, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	envelope = envelope.WithDetails(details)

	var unhealthy []string
	for name, result := range checks {
		if result != "healthy" {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)

	contextData := map[string]interface{}{
		"status": status,
		"probe":  probe,
	}
	if len(unhealthy) > 0 {
		contextData["unhealthy_checks"] = unhealthy
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

// Global health manager instance
var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(probe string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			serve(globalHealthManager, w, r)
			return
		}

		envelope := errors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "health manager not initialized")
		envelope = enrichHealthEnvelope(envelope, probe, "unknown", nil)
		respondWithError(w, r, envelope)
	}
}

// Handlers bound to the global manager.
var (
	HealthHandler    = withGlobalManager(ProbeAggregate, (*HealthManager).HealthHandler)
	LivenessHandler  = withGlobalManager(ProbeLive, (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager(ProbeReady, (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager(ProbeStartup, (*HealthManager).StartupHandler)
)
