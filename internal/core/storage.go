package core

import (
	"context"
	"fmt"

	"esgbu/internal/config"
	"esgbu/internal/infra/persistence/memory"
	"esgbu/internal/infra/persistence/postgres"
	"esgbu/internal/infra/persistence/sqlite"
)

// OpenPersistentStore opens the backend selected by cfg.Driver. SQL backends
// are migrated before they are returned.
func OpenPersistentStore(ctx context.Context, cfg config.Storage, engine *RulesEngine) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.NewStore(engine), nil
	case config.StorageSQLite, "":
		path := cfg.SQLitePath
		if path == "" {
			path = sqlite.DefaultPath
		}
		return sqlite.NewStore(ctx, path, engine)
	case config.StoragePostgres:
		dsn := cfg.PostgresDSN
		if dsn == "" {
			dsn = postgres.DefaultDSN
		}
		return postgres.NewStore(ctx, dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
