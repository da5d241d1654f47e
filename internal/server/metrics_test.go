package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clawpulse/syncrelay/internal/errors"
	"github.com/clawpulse/syncrelay/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func withProxyTransport(t *testing.T, fn roundTripFunc) {
	t.Helper()
	original := metricsProxyClient
	metricsProxyClient = &http.Client{Transport: fn}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("test", ":9090")
	t.Cleanup(func() {
		metricsProxyClient = original
		observability.PrometheusExporter = nil
	})
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestMetricsHandlerProxiesPrometheusOutput(t *testing.T) {
	withProxyTransport(t, func(req *http.Request) (*http.Response, error) {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("syncrelay_relay_operations_total 3\n")),
			Header:     make(http.Header),
		}
		resp.Header.Set("Connection", "close")
		return resp, nil
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Contains(t, rec.Body.String(), "relay_operations_total")
}

func TestMetricsHandlerReportsUnreachableExporter(t *testing.T) {
	withProxyTransport(t, func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, apperrors.CodeExternalService, decodeErrorCode(t, rec))
}

func TestMetricsHandlerReturnsServiceUnavailableWithoutExporter(t *testing.T) {
	observability.PrometheusExporter = nil

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	MetricsHandler(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.CodeServiceUnavailable, decodeErrorCode(t, rec))
}
