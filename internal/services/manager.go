// Package services assembles the indexer process from configuration: the
// event store, the notification transport, the coordinator, the worker pool,
// the ingest adapters and the HTTP API. Each role can run in its own process
// against a shared event store.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/syntrixbase/searchindexer/internal/config"
	"github.com/syntrixbase/searchindexer/internal/coordinator"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
	"github.com/syntrixbase/searchindexer/internal/indexing"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/kafka"
	"github.com/syntrixbase/searchindexer/internal/ingest/rabbitmq"
	"github.com/syntrixbase/searchindexer/internal/server"
	"github.com/syntrixbase/searchindexer/internal/worker"
)

// Options selects the roles this process runs.
type Options struct {
	RunCoordinator bool
	RunWorkers     bool
	RunIngest      bool
	RunAPI         bool
}

// All returns options running every role.
func All() Options {
	return Options{RunCoordinator: true, RunWorkers: true, RunIngest: true, RunAPI: true}
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store        eventstore.Store
	provider     pubsub.Provider
	publisher    pubsub.Publisher
	consumer     pubsub.Consumer
	coordinator  *coordinator.Coordinator
	pool         *worker.Pool
	indexStorage *indexing.MemoryStorage
	ingester     *ingest.Ingester
	kafka        *kafka.Adapter
	rabbit       *rabbitmq.Adapter
	server       server.Service

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
	}
}

// Coordinator returns the coordinator, or nil when this process does not run it.
func (m *Manager) Coordinator() *coordinator.Coordinator {
	return m.coordinator
}

// Done is closed when the coordinator loop exits on its own, which only
// happens after a fatal error. It never closes when no coordinator runs.
func (m *Manager) Done() <-chan struct{} {
	if m.coordinator == nil {
		return nil
	}
	return m.coordinator.Done()
}
