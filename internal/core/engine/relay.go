package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/core"
	"github.com/clawpulse/syncrelay/internal/core/tokenhash"
	"github.com/clawpulse/syncrelay/internal/metrics"
)

// TokenVerifier accepts or rejects a platform-issued attestation. Any
// non-nil error is a rejection.
type TokenVerifier interface {
	Verify(ctx context.Context, attestation string) error
}

// Relay coordinates validation, admission, hashing and storage for the three
// client operations.
type Relay struct {
	Records  RecordStore
	Expiry   *Expiry
	Limiter  *RateLimiter
	Verifier TokenVerifier
	Logger   *logging.Logger

	TTL             time.Duration
	MaxPayloadBytes int64

	// MinTokenLength applies to Store. Zero only requires a non-empty token.
	MinTokenLength int
}

// StoreRequest uploads a payload under a token.
type StoreRequest struct {
	Token       string
	Payload     []byte
	ClientID    string
	Attestation string
}

// StoreResult reports when the stored payload expires.
type StoreResult struct {
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	TTL       time.Duration `json:"ttl"`
}

// FetchRequest reads the payload stored under a token.
type FetchRequest struct {
	Token       string
	ClientID    string
	Attestation string
}

// FetchResult carries the stored payload.
type FetchResult struct {
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeleteRequest removes the payload stored under a token.
type DeleteRequest struct {
	Token       string
	ClientID    string
	Attestation string
}

// DeleteResult reports whether a record was removed. Deleting an absent
// token is still a success.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

// NewRelay wires a relay around store with an expiry manager sharing its
// clock and TTL.
func NewRelay(store RecordStore, limiter *RateLimiter, ttl time.Duration, maxPayloadBytes int64) *Relay {
	return &Relay{
		Records:         store,
		Expiry:          &Expiry{Store: store, TTL: ttl},
		Limiter:         limiter,
		TTL:             ttl,
		MaxPayloadBytes: maxPayloadBytes,
	}
}

// Store saves req.Payload under the hash of req.Token, replacing any
// previous payload and restarting its TTL.
func (r *Relay) Store(ctx context.Context, req StoreRequest) (result StoreResult, err error) {
	start := time.Now()
	defer func() { r.observe(core.OperationStore, start, err) }()

	if err := r.checkToken(req.Token, r.MinTokenLength); err != nil {
		return StoreResult{}, err
	}
	if strings.TrimSpace(string(req.Payload)) == "" {
		return StoreResult{}, fmt.Errorf("%w: payload cannot be empty", core.ErrInvalidInput)
	}
	if r.MaxPayloadBytes > 0 && int64(len(req.Payload)) > r.MaxPayloadBytes {
		return StoreResult{}, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrPayloadTooLarge, len(req.Payload), r.MaxPayloadBytes)
	}
	if err := r.admit(ctx, core.OperationStore, req.Attestation, req.ClientID); err != nil {
		return StoreResult{}, err
	}

	hash := tokenhash.Sum(req.Token)
	rec, err := r.Records.Put(ctx, hash, req.Payload)
	if err != nil {
		r.logFailure(core.OperationStore, hash, err)
		return StoreResult{}, err
	}

	metrics.RecordPayloadSize(rec.Size())
	r.logDebug("Stored payload",
		zap.String("token_ref", tokenhash.Ref(hash)),
		zap.Int("bytes", rec.Size()))

	return StoreResult{
		UpdatedAt: rec.UpdatedAt,
		ExpiresAt: rec.UpdatedAt.Add(r.TTL),
		TTL:       r.TTL,
	}, nil
}

// Fetch returns the live payload for req.Token or core.ErrNotFound.
func (r *Relay) Fetch(ctx context.Context, req FetchRequest) (result FetchResult, err error) {
	start := time.Now()
	defer func() { r.observe(core.OperationFetch, start, err) }()

	if err := r.checkToken(req.Token, 0); err != nil {
		return FetchResult{}, err
	}
	if err := r.admit(ctx, core.OperationFetch, req.Attestation, req.ClientID); err != nil {
		return FetchResult{}, err
	}

	hash := tokenhash.Sum(req.Token)
	rec, err := r.expiry().Fetch(ctx, hash)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			r.logFailure(core.OperationFetch, hash, err)
		}
		return FetchResult{}, err
	}

	return FetchResult{Payload: rec.Payload, UpdatedAt: rec.UpdatedAt}, nil
}

// Delete removes the payload for req.Token. It never returns
// core.ErrNotFound.
func (r *Relay) Delete(ctx context.Context, req DeleteRequest) (result DeleteResult, err error) {
	start := time.Now()
	defer func() { r.observe(core.OperationDelete, start, err) }()

	if err := r.checkToken(req.Token, 0); err != nil {
		return DeleteResult{}, err
	}
	if err := r.admit(ctx, core.OperationDelete, req.Attestation, req.ClientID); err != nil {
		return DeleteResult{}, err
	}

	hash := tokenhash.Sum(req.Token)
	deleted, err := r.Records.Delete(ctx, hash)
	if err != nil {
		r.logFailure(core.OperationDelete, hash, err)
		return DeleteResult{}, err
	}

	return DeleteResult{Deleted: deleted}, nil
}

// Health reports whether the store is reachable.
func (r *Relay) Health(ctx context.Context) error {
	if r == nil || r.Records == nil {
		return fmt.Errorf("%w: relay has no store", core.ErrStorage)
	}
	if err := r.Records.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorage, err)
	}
	return nil
}

// CheckHealth lets the relay register with the health manager, so /health
// reports the store as the relay sees it.
func (r *Relay) CheckHealth(ctx context.Context) error {
	return r.Health(ctx)
}

// RateLimitError carries the limiter decision behind core.ErrRateLimited.
type RateLimitError struct {
	Class    core.OperationClass
	Decision Decision
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s limit of %d reached, retry after %s",
		core.ErrRateLimited, e.Class, e.Decision.Limit, e.Decision.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return core.ErrRateLimited
}

func (r *Relay) checkToken(token string, minLength int) error {
	if r == nil || r.Records == nil {
		return fmt.Errorf("%w: relay has no store", core.ErrStorage)
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%w: token is required", core.ErrInvalidInput)
	}
	if minLength > 0 && utf8.RuneCountInString(token) < minLength {
		return fmt.Errorf("%w: token must be at least %d characters", core.ErrInvalidInput, minLength)
	}
	return nil
}

func (r *Relay) admit(ctx context.Context, op core.Operation, attestation string, clientID string) error {
	if r.Verifier != nil {
		if err := r.Verifier.Verify(ctx, attestation); err != nil {
			r.logDebug("Platform token rejected",
				zap.String("operation", string(op)),
				zap.Error(err))
			return fmt.Errorf("%w: %w", core.ErrTokenRejected, err)
		}
	}

	class := op.Class()
	decision, err := r.Limiter.Admit(ctx, clientID, class)
	if err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	if !decision.Allowed {
		metrics.RecordThrottle(string(class))
		return &RateLimitError{Class: class, Decision: decision}
	}
	return nil
}

func (r *Relay) expiry() *Expiry {
	if r.Expiry != nil {
		return r.Expiry
	}
	return &Expiry{Store: r.Records, TTL: r.TTL, Logger: r.Logger}
}

func (r *Relay) observe(op core.Operation, start time.Time, err error) {
	metrics.RecordRelayOperation(string(op), Outcome(err), time.Since(start))
}

func (r *Relay) logFailure(op core.Operation, hash string, err error) {
	if r.Logger == nil {
		return
	}
	r.Logger.Error("Relay operation failed",
		zap.String("operation", string(op)),
		zap.String("token_ref", tokenhash.Ref(hash)),
		zap.Error(err))
}

func (r *Relay) logDebug(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Debug(msg, fields...)
	}
}

// Outcome classifies err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrNotFound):
		return "not_found"
	case errors.Is(err, core.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, core.ErrRateLimited):
		return "throttled"
	case errors.Is(err, core.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, core.ErrTokenRejected):
		return "forbidden"
	default:
		return "error"
	}
}
