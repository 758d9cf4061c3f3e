// Package store persists resource records for the reference server. Callers
// depend on store.Store; the drivers live under internal/infra/store.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"meshcore/internal/blob"
	"meshcore/internal/config"
	"meshcore/internal/infra/store/objectstore"
	"meshcore/internal/infra/store/memory"
	"meshcore/internal/infra/store/postgres"
	"meshcore/internal/infra/store/sqlite"
	"meshcore/internal/store/core"
)

type (
	Store       = core.Store
	Transaction = core.Transaction
	View        = core.View
	Snapshot    = core.Snapshot
	ErrNotFound = core.ErrNotFound
	ErrConflict = core.ErrConflict
)

// Open builds the store selected by cfg.Driver; empty selects memory.
func Open(ctx context.Context, cfg config.Storage, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageMemory
	}
	logger.Info("opening record store", zap.String("driver", driver))
	switch driver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	case config.StorageBlob:
		objects, err := blob.Open(ctx, cfg.Blob, logger)
		if err != nil {
			return nil, err
		}
		return objectstore.NewStore(ctx, objects, cfg.Blob.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// NewMemory returns a process-local store.
func NewMemory() Store { return memory.NewStore() }
