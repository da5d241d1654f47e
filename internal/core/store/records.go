package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/clawpulse/syncrelay/internal/core"
	"github.com/clawpulse/syncrelay/internal/core/tokenhash"
)

// Stats summarizes the sync_records table.
type Stats struct {
	Records        int64      `json:"records"`
	PayloadBytes   int64      `json:"payload_bytes"`
	ExpiredPending int64      `json:"expired_pending"`
	OldestUpdate   *time.Time `json:"oldest_update,omitempty"`
	NewestUpdate   *time.Time `json:"newest_update,omitempty"`
}

// Put upserts the payload for hash and returns the stored timestamps.
//
// The write is one statement, so concurrent puts for the same hash resolve
// to exactly one of them. updated_at always moves forward, even when two
// writes land on the same clock reading.
func (s *Store) Put(ctx context.Context, hash string, payload []byte) (core.SyncRecord, error) {
	if err := s.ready(); err != nil {
		return core.SyncRecord{}, err
	}
	if err := checkHash(hash); err != nil {
		return core.SyncRecord{}, err
	}
	if s.MaxPayloadBytes > 0 && int64(len(payload)) > s.MaxPayloadBytes {
		return core.SyncRecord{}, fmt.Errorf("%w: %d bytes exceeds %d", core.ErrPayloadTooLarge, len(payload), s.MaxPayloadBytes)
	}
	if payload == nil {
		payload = []byte{}
	}

	ctx = ensureContext(ctx)
	now := s.now()
	revive := int64(math.MinInt64)
	if s.TTL > 0 {
		revive = now.Add(-s.TTL).UnixNano()
	}

	var createdAt, updatedAt int64
	row := s.DB.QueryRowContext(ctx, s.dialect.bind(s.dialect.putQuery),
		hash, payload, now.UnixNano(), now.UnixNano(), revive)
	if err := row.Scan(&createdAt, &updatedAt); err != nil {
		return core.SyncRecord{}, storageError("store record", err)
	}

	return core.SyncRecord{
		TokenHash: hash,
		Payload:   payload,
		CreatedAt: fromNanos(createdAt),
		UpdatedAt: fromNanos(updatedAt),
	}, nil
}

// Get returns the physical record for hash, expired or not.
// It returns core.ErrNotFound when no row exists.
func (s *Store) Get(ctx context.Context, hash string) (core.SyncRecord, error) {
	if err := s.ready(); err != nil {
		return core.SyncRecord{}, err
	}
	if err := checkHash(hash); err != nil {
		return core.SyncRecord{}, err
	}

	var (
		payload   []byte
		createdAt int64
		updatedAt int64
	)

	row := s.DB.QueryRowContext(ensureContext(ctx), s.dialect.bind(`
		SELECT payload, created_at, updated_at
		FROM sync_records
		WHERE token_hash = ?
	`), hash)
	if err := row.Scan(&payload, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.SyncRecord{}, core.ErrNotFound
		}
		return core.SyncRecord{}, storageError("fetch record", err)
	}

	return core.SyncRecord{
		TokenHash: hash,
		Payload:   payload,
		CreatedAt: fromNanos(createdAt),
		UpdatedAt: fromNanos(updatedAt),
	}, nil
}

// Delete removes the record for hash. Deleting an absent record is not an
// error; the boolean reports whether a row was removed.
func (s *Store) Delete(ctx context.Context, hash string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := checkHash(hash); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ensureContext(ctx), s.dialect.bind(`
		DELETE FROM sync_records WHERE token_hash = ?
	`), hash)
	if err != nil {
		return false, storageError("delete record", err)
	}
	return affected(res, "delete record")
}

// DeleteIfOlderThan removes the record for hash only when its last write is
// before cutoff, so a concurrent refresh is never lost.
func (s *Store) DeleteIfOlderThan(ctx context.Context, hash string, cutoff time.Time) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if err := checkHash(hash); err != nil {
		return false, err
	}

	res, err := s.DB.ExecContext(ensureContext(ctx), s.dialect.bind(`
		DELETE FROM sync_records WHERE token_hash = ? AND updated_at < ?
	`), hash, cutoff.UTC().UnixNano())
	if err != nil {
		return false, storageError("delete expired record", err)
	}
	return affected(res, "delete expired record")
}

// DeleteOlderThan removes every record last written before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	res, err := s.DB.ExecContext(ensureContext(ctx), s.dialect.bind(`
		DELETE FROM sync_records WHERE updated_at < ?
	`), cutoff.UTC().UnixNano())
	if err != nil {
		return 0, storageError("purge expired records", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("purge expired records", err)
	}
	return n, nil
}

// Stats reports table totals; records last written before cutoff count as
// expired but not yet swept.
func (s *Store) Stats(ctx context.Context, cutoff time.Time) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}

	var (
		stats  Stats
		oldest sql.NullInt64
		newest sql.NullInt64
	)

	row := s.DB.QueryRowContext(ensureContext(ctx), s.dialect.bind(`
		SELECT
			COUNT(*),
			CAST(COALESCE(SUM(LENGTH(payload)), 0) AS BIGINT),
			CAST(COALESCE(SUM(CASE WHEN updated_at < ? THEN 1 ELSE 0 END), 0) AS BIGINT),
			MIN(updated_at),
			MAX(updated_at)
		FROM sync_records
	`), cutoff.UTC().UnixNano())
	if err := row.Scan(&stats.Records, &stats.PayloadBytes, &stats.ExpiredPending, &oldest, &newest); err != nil {
		return Stats{}, storageError("read store stats", err)
	}

	if oldest.Valid {
		value := fromNanos(oldest.Int64)
		stats.OldestUpdate = &value
	}
	if newest.Valid {
		value := fromNanos(newest.Int64)
		stats.NewestUpdate = &value
	}

	return stats, nil
}

func (s *Store) ready() error {
	if s == nil || s.DB == nil {
		return fmt.Errorf("%w: store is not initialized", core.ErrStorage)
	}
	return nil
}

// checkHash keeps raw tokens from ever reaching SQL.
func checkHash(hash string) error {
	if !tokenhash.Valid(hash) {
		return fmt.Errorf("%w: malformed token hash", core.ErrInvalidInput)
	}
	return nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageError(op, err)
	}
	return n > 0, nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, core.ErrStorage, err)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
