package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawpulse/syncrelay/internal/core/engine"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", stubChecker{err: nil})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "syncrelay is running", resp.Message)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Checks["store"])
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("store", stubChecker{err: errors.New("down")})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Error struct {
			Code    string                 `json:"code"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)

	checks, ok := resp.Error.Details["checks"].(map[string]interface{})
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, "unhealthy", checks["store"])
	assert.Equal(t, ProbeAggregate, resp.Error.Details["probe"])
}

func TestProbeHandlers(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("store", stubChecker{})

	for name, handler := range map[string]http.HandlerFunc{
		ProbeLive:    manager.LivenessHandler,
		ProbeReady:   manager.ReadinessHandler,
		ProbeStartup: manager.StartupHandler,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/health/"+name, nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var resp ProbeResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "healthy", resp.Status)
		})
	}
}

func TestCheckMarksCanceledChecksAsTimeout(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("store", stubChecker{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	status, checks := manager.Check(ctx)
	assert.Equal(t, "degraded", status)
	assert.Equal(t, "timeout", checks["store"])
}

func TestGlobalHandlersWithoutManager(t *testing.T) {
	original := globalHealthManager
	globalHealthManager = nil
	t.Cleanup(func() { globalHealthManager = original })

	rec := httptest.NewRecorder()
	ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthReportsRelayStore(t *testing.T) {
	f := newSyncFixture(t, 1024)

	manager := NewHealthManager("dev")
	manager.RegisterChecker("store", f.handler.Relay)

	status, checks := manager.Check(context.Background())
	assert.Equal(t, "healthy", status)
	assert.Equal(t, "healthy", checks["store"])

	manager.RegisterChecker("store", &engine.Relay{})
	status, checks = manager.Check(context.Background())
	assert.Equal(t, "unhealthy", status)
	assert.Equal(t, "unhealthy", checks["store"])
}
