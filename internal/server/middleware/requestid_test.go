package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDKeepsWellFormedClientID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "app-7f3a:upload.2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "app-7f3a:upload.2", seen)
	assert.Equal(t, "app-7f3a:upload.2", rec.Header().Get(RequestIDHeader))
}

func TestRequestIDReplacesUnsafeClientID(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{name: "empty", id: ""},
		{name: "too long", id: strings.Repeat("a", MaxRequestIDLength+1)},
		{name: "spaces", id: "req 1"},
		{name: "log injection", id: "req-1\",\"level\":\"error"},
		{name: "path", id: "/sync/tok123456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(RequestIDHeader, tt.id)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			_, err := uuid.Parse(seen)
			require.NoError(t, err)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestValidRequestID(t *testing.T) {
	assert.True(t, ValidRequestID("req-1"))
	assert.True(t, ValidRequestID(strings.Repeat("A", MaxRequestIDLength)))
	assert.False(t, ValidRequestID(strings.Repeat("A", MaxRequestIDLength+1)))
	assert.False(t, ValidRequestID("ünï"))
	assert.False(t, ValidRequestID("a\nb"))
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetRequestID(req.Context()))
}

func TestCORSExposesRequestID(t *testing.T) {
	handler := CORS(nil)(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/sync/tok123456", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	exposed := strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Contains(t, exposed, "x-request-id")
	assert.Contains(t, exposed, "retry-after")
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}
