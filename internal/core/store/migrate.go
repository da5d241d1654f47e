package store

import (
	"context"
	"errors"
	"fmt"
)

// Migrate ensures the sync_records table and its sweep index exist.
//
// The relay owns exactly one table; no version bookkeeping table is created.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range s.dialect.schema {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}

	return nil
}
