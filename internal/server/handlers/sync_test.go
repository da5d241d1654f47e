package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/core/engine"
	"github.com/clawpulse/syncrelay/internal/core/store"
	apperrors "github.com/clawpulse/syncrelay/internal/errors"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type syncFixture struct {
	router  chi.Router
	clock   *stepClock
	handler *SyncHandler
}

func newSyncFixture(t *testing.T, maxPayloadBytes int64) *syncFixture {
	t.Helper()

	ctx := context.Background()
	db, err := store.Open(ctx, config.StoreConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	clock := &stepClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	ttl := 48 * time.Hour
	db.MaxPayloadBytes = maxPayloadBytes
	db.TTL = ttl
	db.Clock = clock.Now

	limiter := engine.NewRateLimiter(config.RateLimitConfig{
		WritesPerWindow: 10,
		ReadsPerWindow:  30,
		Window:          time.Minute,
	})
	limiter.Clock = clock.Now

	relay := engine.NewRelay(db, limiter, ttl, maxPayloadBytes)
	relay.Expiry.Clock = clock.Now
	relay.MinTokenLength = 8

	h := &SyncHandler{Relay: relay, MaxPayloadBytes: maxPayloadBytes, TrustCFConnectingIP: true}
	r := chi.NewRouter()
	h.Routes(r)

	return &syncFixture{router: r, clock: clock, handler: h}
}

func (f *syncFixture) do(t *testing.T, method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "203.0.113.7:51234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestSyncUploadFetchDelete(t *testing.T) {
	f := newSyncFixture(t, 1024)

	rec := f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "Stored. Expires in 48h.", status.Message)
	require.NotNil(t, status.ExpiresAt)
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), status.ExpiresAt.UTC())

	rec = f.do(t, http.MethodGet, "/sync/tok123456", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "abc==", fetched.Payload)
	assert.Equal(t, f.clock.Now(), fetched.UpdatedAt.UTC())

	rec = f.do(t, http.MethodDelete, "/sync/tok123456", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Payload deleted.")

	rec = f.do(t, http.MethodDelete, "/sync/tok123456", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/sync/tok123456", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(t, rec))
	assert.NotContains(t, rec.Body.String(), "tok123456")
}

func TestSyncFetchAfterExpiry(t *testing.T) {
	f := newSyncFixture(t, 1024)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, nil).Code)

	f.clock.Advance(47 * time.Hour)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/sync/tok123456", nil, nil).Code)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/sync/tok123456", nil, nil).Code)
}

func TestSyncUploadValidation(t *testing.T) {
	f := newSyncFixture(t, 16)

	cases := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"malformed json", "{not json", http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"short token", SyncUpload{Token: "short", Payload: "abc=="}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"blank payload", SyncUpload{Token: "tok123456", Payload: "   "}, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"oversized payload", SyncUpload{Token: "tok123456", Payload: strings.Repeat("a", 17)}, http.StatusRequestEntityTooLarge, apperrors.CodePayloadTooLarge},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/sync", tc.body, nil)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestSyncUploadBodyLimit(t *testing.T) {
	f := newSyncFixture(t, 16)

	huge := SyncUpload{Token: "tok123456", Payload: strings.Repeat("a", 128<<10)}
	rec := f.do(t, http.MethodPost, "/sync", huge, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, apperrors.CodePayloadTooLarge, errorCode(t, rec))
}

func TestSyncWriteRateLimit(t *testing.T) {
	f := newSyncFixture(t, 1024)
	headers := map[string]string{CFConnectingIPHeader: "198.51.100.1"}

	for i := 0; i < 10; i++ {
		rec := f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, headers)
		require.Equal(t, http.StatusOK, rec.Code, "write %d", i+1)
		f.clock.Advance(time.Second)
	}

	rec := f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, headers)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apperrors.CodeRateLimited, errorCode(t, rec))
	assert.Equal(t, "50", rec.Header().Get("Retry-After"))

	// A different Cloudflare client has its own window.
	other := map[string]string{CFConnectingIPHeader: "198.51.100.2"}
	rec = f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, other)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Reads are limited separately.
	rec = f.do(t, http.MethodGet, "/sync/tok123456", nil, headers)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncTokenPathEncoding(t *testing.T) {
	f := newSyncFixture(t, 1024)

	rec := f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok 1234/56", Payload: "abc=="}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/sync/tok%201234%2F56", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/sync/x", nil)
	req.RemoteAddr = "192.0.2.10:4444"
	req.Header.Set(CFConnectingIPHeader, "198.51.100.9")

	assert.Equal(t, "198.51.100.9", ClientID(req, true))
	assert.Equal(t, "192.0.2.10", ClientID(req, false))

	req.RemoteAddr = "192.0.2.11"
	assert.Equal(t, "192.0.2.11", ClientID(req, false))
}

func TestBodyLimitSaturates(t *testing.T) {
	assert.Equal(t, int64(2048+bodyOverhead), bodyLimit(1024))
	assert.Equal(t, int64(math.MaxInt64), bodyLimit(math.MaxInt64))
	assert.Equal(t, int64(math.MaxInt64), bodyLimit(math.MaxInt64/2))
}

func TestUploadWithHugePayloadLimit(t *testing.T) {
	f := newSyncFixture(t, math.MaxInt64)

	rec := f.do(t, http.MethodPost, "/sync", SyncUpload{Token: "tok123456", Payload: "abc=="}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestFormatTTL(t *testing.T) {
	assert.Equal(t, "48h", formatTTL(48*time.Hour))
	assert.Equal(t, "1h30m0s", formatTTL(90*time.Minute))
}
