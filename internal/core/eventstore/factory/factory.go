// Package factory opens the event store backend selected by configuration.
package factory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/config"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/memory"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/mongo"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/pebble"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/postgres"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/sqlite"
)

// NewStore opens the configured backend.
func NewStore(ctx context.Context, cfg config.Config) (eventstore.Store, error) {
	slog.Info("Opening event store", "backend", cfg.Backend)
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendMongo:
		s, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.DatabaseName, cfg.Mongo.Collection)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		return s, nil
	case config.BackendPostgres:
		s, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		return s, nil
	case config.BackendPebble:
		s, err := pebble.Open(cfg.Pebble.Path, cfg.Pebble.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", eventstore.ErrUnknownBackend, cfg.Backend)
	}
}
