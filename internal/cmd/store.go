package cmd

import (
	"context"

	"github.com/clawpulse/syncrelay/internal/config"
	"github.com/clawpulse/syncrelay/internal/core/store"
)

// openStore opens and migrates the payload store with the relay's bounds applied.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.MaxPayloadBytes = cfg.Relay.MaxPayloadBytes
	db.TTL = cfg.Relay.TTL()
	return db, nil
}
