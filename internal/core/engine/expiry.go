package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/clawpulse/syncrelay/internal/core"
	"github.com/clawpulse/syncrelay/internal/core/tokenhash"
	"github.com/clawpulse/syncrelay/internal/metrics"
)

// RecordStore is the persistence the relay needs. *store.Store satisfies it.
type RecordStore interface {
	Put(ctx context.Context, hash string, payload []byte) (core.SyncRecord, error)
	Get(ctx context.Context, hash string) (core.SyncRecord, error)
	Delete(ctx context.Context, hash string) (bool, error)
	DeleteIfOlderThan(ctx context.Context, hash string, cutoff time.Time) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Expiry decides record liveness. A record is live while the time since its
// last write is at most TTL; reads never extend it.
type Expiry struct {
	Store  RecordStore
	TTL    time.Duration
	Clock  func() time.Time
	Logger *logging.Logger
}

// Expired reports whether rec is logically absent at now.
func (e *Expiry) Expired(rec core.SyncRecord, now time.Time) bool {
	if e == nil || e.TTL <= 0 {
		return false
	}
	return now.Sub(rec.UpdatedAt) > e.TTL
}

// Cutoff returns the oldest updated_at that is still live at now.
func (e *Expiry) Cutoff(now time.Time) time.Time {
	return now.Add(-e.TTL)
}

// Fetch returns the live record for hash, or core.ErrNotFound.
//
// An expired record found here is deleted on a best-effort basis. The delete
// is conditional on updated_at, so a write that lands between the read and
// the delete survives.
func (e *Expiry) Fetch(ctx context.Context, hash string) (core.SyncRecord, error) {
	if e == nil || e.Store == nil {
		return core.SyncRecord{}, fmt.Errorf("%w: expiry has no store", core.ErrStorage)
	}

	rec, err := e.Store.Get(ctx, hash)
	if err != nil {
		return core.SyncRecord{}, err
	}

	now := e.now()
	if !e.Expired(rec, now) {
		return rec, nil
	}

	metrics.RecordLazyExpiry()
	if _, err := e.Store.DeleteIfOlderThan(ctx, hash, e.Cutoff(now)); err != nil {
		if e.Logger != nil {
			e.Logger.Warn("Failed to remove expired record",
				zap.String("token_ref", tokenhash.Ref(hash)),
				zap.Error(err))
		}
	}

	return core.SyncRecord{}, core.ErrNotFound
}

// Sweep removes every expired record and returns how many were removed.
func (e *Expiry) Sweep(ctx context.Context) (int64, error) {
	if e == nil || e.Store == nil {
		return 0, fmt.Errorf("%w: expiry has no store", core.ErrStorage)
	}
	if e.TTL <= 0 {
		return 0, nil
	}
	return e.Store.DeleteOlderThan(ctx, e.Cutoff(e.now()))
}

func (e *Expiry) now() time.Time {
	if e != nil && e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

// ErrSweeperRunning is returned when Run is called on a sweeper that is
// already running.
var ErrSweeperRunning = errors.New("sweeper already running")

// Sweeper reclaims expired records on an interval and prunes idle rate
// windows. Run may be called again after it returns.
type Sweeper struct {
	Expiry   *Expiry
	Interval time.Duration
	Limiter  *RateLimiter
	Logger   *logging.Logger

	running atomic.Bool
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Removed       int64         `json:"removed"`
	WindowsPruned int           `json:"windows_pruned"`
	Duration      time.Duration `json:"duration"`
}

// Run sweeps immediately and then on every tick until ctx is done.
// Failed passes are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	if s == nil || s.Expiry == nil {
		return errors.New("sweeper requires an expiry manager")
	}
	if s.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrSweeperRunning
	}
	defer s.running.Store(false)

	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		_, _ = s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	if s == nil || s.Expiry == nil {
		return SweepResult{}, errors.New("sweeper requires an expiry manager")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	removed, err := s.Expiry.Sweep(ctx)
	result := SweepResult{Removed: removed, Duration: time.Since(start)}
	metrics.RecordSweep(removed, result.Duration, err == nil)

	if err != nil {
		if s.Logger != nil && ctx.Err() == nil {
			s.Logger.Error("Expiry sweep failed", zap.Error(err))
		}
		return result, err
	}

	if s.Limiter != nil {
		result.WindowsPruned = s.Limiter.Prune(s.Limiter.now())
		metrics.RecordRateWindowsPruned(result.WindowsPruned)
	}

	if s.Logger != nil && (removed > 0 || result.WindowsPruned > 0) {
		s.Logger.Info("Expiry sweep completed",
			zap.Int64("removed", removed),
			zap.Int("windows_pruned", result.WindowsPruned),
			zap.Duration("duration", result.Duration))
	}

	return result, nil
}

// Running reports whether Run is active.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}
