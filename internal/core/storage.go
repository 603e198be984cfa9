package core

import (
	"context"
	"fmt"
	"io"

	"sequelacore/internal/config"
	"sequelacore/internal/infra/persistence/memory"
	"sequelacore/internal/infra/persistence/postgres"
	"sequelacore/internal/infra/persistence/sqlite"
	"sequelacore/pkg/domain"
)

// OpenPersistentStore opens the backend selected by cfg.Storage. Audit
// columns are stamped with cfg.Actor. The returned closer is a no-op for the
// memory driver.
func OpenPersistentStore(ctx context.Context, cfg *config.Config, engine *domain.RulesEngine) (domain.PersistentStore, io.Closer, error) {
	opts := []memory.Option{memory.WithActor(cfg.Actor)}
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return memory.NewStore(engine, opts...), nopCloser{}, nil
	case config.DriverSQLite:
		s, err := sqlite.NewStore(cfg.Storage.SQLitePath, engine, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN, engine, opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
