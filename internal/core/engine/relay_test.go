package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/core"
	"github.com/clawpulse/syncrelay/internal/core/store"
	"github.com/clawpulse/syncrelay/internal/core/tokenhash"
)

const maxPayload = 10485760

func newTestRelay(clock *testClock) (*Relay, *memoryRecordStore) {
	records := newMemoryRecordStore(clock.Now)
	relay := &Relay{
		Records:         records,
		Expiry:          &Expiry{Store: records, TTL: 48 * time.Hour, Clock: clock.Now},
		Limiter:         &RateLimiter{Store: NewMemoryWindowStore(), Clock: clock.Now},
		TTL:             48 * time.Hour,
		MaxPayloadBytes: maxPayload,
		MinTokenLength:  8,
	}
	return relay, records
}

type stubVerifier struct {
	accept string
	calls  int
}

func (s *stubVerifier) Verify(ctx context.Context, attestation string) error {
	s.calls++
	if attestation != s.accept {
		return errors.New("signature mismatch")
	}
	return nil
}

func TestRelayRoundTrip(t *testing.T) {
	clock := newTestClock()
	relay, _ := newTestRelay(clock)
	ctx := context.Background()

	stored, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc=="), ClientID: "1.1.1.1"})
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), stored.UpdatedAt)
	assert.Equal(t, clock.Now().Add(48*time.Hour), stored.ExpiresAt)
	assert.Equal(t, 48*time.Hour, stored.TTL)

	fetched, err := relay.Fetch(ctx, FetchRequest{Token: "tok123456", ClientID: "2.2.2.2"})
	require.NoError(t, err)
	assert.Equal(t, []byte("abc=="), fetched.Payload)
	assert.Equal(t, stored.UpdatedAt, fetched.UpdatedAt)
}

func TestRelayOverwrite(t *testing.T) {
	clock := newTestClock()
	relay, _ := newTestRelay(clock)
	ctx := context.Background()

	first, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("P1")})
	require.NoError(t, err)
	second, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("P2")})
	require.NoError(t, err)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	fetched, err := relay.Fetch(ctx, FetchRequest{Token: "tok123456"})
	require.NoError(t, err)
	require.Equal(t, []byte("P2"), fetched.Payload)
}

func TestRelayDeleteIsIdempotent(t *testing.T) {
	clock := newTestClock()
	relay, _ := newTestRelay(clock)
	ctx := context.Background()

	result, err := relay.Delete(ctx, DeleteRequest{Token: "never-stored"})
	require.NoError(t, err)
	require.False(t, result.Deleted)

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc")})
	require.NoError(t, err)

	result, err = relay.Delete(ctx, DeleteRequest{Token: "tok123456"})
	require.NoError(t, err)
	require.True(t, result.Deleted)

	result, err = relay.Delete(ctx, DeleteRequest{Token: "tok123456"})
	require.NoError(t, err)
	require.False(t, result.Deleted)

	_, err = relay.Fetch(ctx, FetchRequest{Token: "tok123456"})
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestRelaySizeBoundKeepsPriorRecord(t *testing.T) {
	clock := newTestClock()
	relay, records := newTestRelay(clock)
	relay.MaxPayloadBytes = 8
	ctx := context.Background()

	_, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("small")})
	require.NoError(t, err)

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("far too large")})
	require.ErrorIs(t, err, core.ErrPayloadTooLarge)
	require.Equal(t, 1, records.putCount())

	fetched, err := relay.Fetch(ctx, FetchRequest{Token: "tok123456"})
	require.NoError(t, err)
	require.Equal(t, []byte("small"), fetched.Payload)
}

func TestRelayOversizedDoesNotConsumeRateSlot(t *testing.T) {
	clock := newTestClock()
	relay, _ := newTestRelay(clock)
	relay.MaxPayloadBytes = 4
	relay.Limiter.Limits = map[core.OperationClass]RateLimit{
		core.ClassWrite: {RequestsPerWindow: 1, WindowDuration: time.Minute},
	}
	ctx := context.Background()

	_, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("oversized"), ClientID: "c"})
	require.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("ok"), ClientID: "c"})
	require.NoError(t, err)
}

func TestRelayValidation(t *testing.T) {
	clock := newTestClock()
	relay, records := newTestRelay(clock)
	ctx := context.Background()

	tests := []struct {
		name string
		req  StoreRequest
	}{
		{name: "short token", req: StoreRequest{Token: "short", Payload: []byte("abc")}},
		{name: "empty token", req: StoreRequest{Token: "", Payload: []byte("abc")}},
		{name: "blank payload", req: StoreRequest{Token: "tok123456", Payload: []byte("   ")}},
		{name: "missing payload", req: StoreRequest{Token: "tok123456"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := relay.Store(ctx, tt.req)
			require.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}
	require.Zero(t, records.putCount())

	_, err := relay.Fetch(ctx, FetchRequest{Token: " "})
	require.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = relay.Delete(ctx, DeleteRequest{})
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestRelayEleventhWriteIsRateLimited(t *testing.T) {
	clock := newTestClock()
	relay, _ := newTestRelay(clock)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc"), ClientID: "9.9.9.9"})
		require.NoError(t, err, "write %d", i+1)
		clock.Advance(time.Second)
	}

	_, err := relay.Delete(ctx, DeleteRequest{Token: "tok123456", ClientID: "9.9.9.9"})
	require.ErrorIs(t, err, core.ErrRateLimited)

	var limited *RateLimitError
	require.ErrorAs(t, err, &limited)
	require.Equal(t, core.ClassWrite, limited.Class)
	require.Equal(t, 50*time.Second, limited.Decision.RetryAfter)

	// Reads have their own budget.
	_, err = relay.Fetch(ctx, FetchRequest{Token: "tok123456", ClientID: "9.9.9.9"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc"), ClientID: "9.9.9.9"})
	require.NoError(t, err)
}

func TestRelayVerifier(t *testing.T) {
	clock := newTestClock()
	relay, records := newTestRelay(clock)
	verifier := &stubVerifier{accept: "signed"}
	relay.Verifier = verifier
	ctx := context.Background()

	_, err := relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc"), Attestation: "forged"})
	require.ErrorIs(t, err, core.ErrTokenRejected)
	require.Zero(t, records.putCount())

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123456", Payload: []byte("abc"), Attestation: "signed"})
	require.NoError(t, err)

	_, err = relay.Fetch(ctx, FetchRequest{Token: "tok123456"})
	require.ErrorIs(t, err, core.ErrTokenRejected)
	require.Equal(t, 3, verifier.calls)
}

func TestRelayErrorsNeverContainToken(t *testing.T) {
	clock := newTestClock()
	relay, records := newTestRelay(clock)
	records.failGet = errDiskGone
	token := "super-secret-token"

	_, err := relay.Fetch(context.Background(), FetchRequest{Token: token})
	require.ErrorIs(t, err, core.ErrStorage)
	require.NotContains(t, err.Error(), token)

	relay.MaxPayloadBytes = 1
	_, err = relay.Store(context.Background(), StoreRequest{Token: token, Payload: []byte("abc")})
	require.Error(t, err)
	require.NotContains(t, err.Error(), token)
}

func TestRelayHealth(t *testing.T) {
	relay, _ := newTestRelay(newTestClock())
	require.NoError(t, relay.Health(context.Background()))
	require.ErrorIs(t, (&Relay{}).Health(context.Background()), core.ErrStorage)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "not_found", Outcome(core.ErrNotFound))
	assert.Equal(t, "too_large", Outcome(core.ErrPayloadTooLarge))
	assert.Equal(t, "throttled", Outcome(&RateLimitError{}))
	assert.Equal(t, "invalid", Outcome(core.ErrInvalidInput))
	assert.Equal(t, "forbidden", Outcome(core.ErrTokenRejected))
	assert.Equal(t, "error", Outcome(errDiskGone))
}

// The 48 hour scenario runs end to end on the pure-Go SQLite store.
func TestRelayScenarioOnSQLite(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	t0 := clock.Now()

	db, err := store.Open(ctx, config.StoreConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "sync.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	db.Clock = clock.Now
	db.TTL = 48 * time.Hour
	db.MaxPayloadBytes = maxPayload

	relay := NewRelay(db, &RateLimiter{Store: NewMemoryWindowStore(), Clock: clock.Now}, 48*time.Hour, maxPayload)
	relay.Expiry.Clock = clock.Now

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123", Payload: []byte("abc==")})
	require.NoError(t, err)

	clock.Advance(time.Hour)
	fetched, err := relay.Fetch(ctx, FetchRequest{Token: "tok123"})
	require.NoError(t, err)
	require.Equal(t, []byte("abc=="), fetched.Payload)
	require.Equal(t, t0, fetched.UpdatedAt)

	clock.Advance(48 * time.Hour)
	_, err = relay.Fetch(ctx, FetchRequest{Token: "tok123"})
	require.ErrorIs(t, err, core.ErrNotFound, "expired without a sweep")

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123", Payload: []byte("abc==")})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = relay.Delete(ctx, DeleteRequest{Token: "tok123"})
	require.NoError(t, err)
	_, err = relay.Fetch(ctx, FetchRequest{Token: "tok123"})
	require.ErrorIs(t, err, core.ErrNotFound)

	var count int
	require.NoError(t, db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_records").Scan(&count))
	require.Zero(t, count)

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123", Payload: []byte(strings.Repeat("x", maxPayload+1))})
	require.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = relay.Store(ctx, StoreRequest{Token: "tok123", Payload: []byte("abc==")})
	require.NoError(t, err)
	var key string
	require.NoError(t, db.DB.QueryRowContext(ctx, "SELECT token_hash FROM sync_records").Scan(&key))
	require.Equal(t, tokenhash.Sum("tok123"), key)
	require.NotEqual(t, "tok123", key)
}
