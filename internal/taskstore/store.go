package taskstore

import (
	"context"
	"fmt"

	"patentbatch/internal/config"
	"patentbatch/internal/services"
)

// SnapshotStore persists the single resumable session.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrNoSnapshot when nothing is saved.
	Load(ctx context.Context) (Snapshot, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open returns the snapshot store selected by session.backend.
func Open(cfg *config.Config) (SnapshotStore, error) {
	switch cfg.Session.Backend {
	case "", "sqlite":
		return OpenSQLite(cfg)
	case "redis":
		return OpenRedis(cfg)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "taskstore", "open",
			fmt.Sprintf("unsupported session backend %q", cfg.Session.Backend), nil)
	}
}
