package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandlerReportsBuildInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abcd123", "2025-11-07T12:00:00Z")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()

	VersionHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "syncrelay", resp.App.Name)
	assert.Equal(t, "1.2.3", resp.App.Version)
	assert.Equal(t, "abcd123", resp.App.Commit)
	assert.NotEmpty(t, resp.App.GoVersion)
	assert.NotEmpty(t, resp.Dependencies.Gofulmen)
	assert.NotEmpty(t, resp.Runtime.Platform)
}
