package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/searchindexer/internal/api/rest"
	"github.com/syntrixbase/searchindexer/internal/coordinator"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/factory"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
	pubsubconfig "github.com/syntrixbase/searchindexer/internal/core/pubsub/config"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub/memory"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub/nats"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub/redis"
	"github.com/syntrixbase/searchindexer/internal/indexing"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/kafka"
	"github.com/syntrixbase/searchindexer/internal/ingest/rabbitmq"
	"github.com/syntrixbase/searchindexer/internal/server"
	"github.com/syntrixbase/searchindexer/internal/worker"
)

var storeFactory = factory.NewStore

var providerFactory = func(cfg pubsubconfig.Config) (pubsub.Provider, error) {
	switch cfg.Provider {
	case pubsubconfig.ProviderMemory:
		return memory.New(), nil
	case pubsubconfig.ProviderNATS:
		return nats.NewProvider(cfg.NATS.URL), nil
	case pubsubconfig.ProviderRedis:
		return redis.NewProvider(redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), nil
	default:
		return nil, fmt.Errorf("unknown pubsub provider '%s'", cfg.Provider)
	}
}

// Init opens shared components and builds every selected role. Nothing is
// started; a failed Init should be followed by Shutdown to release what was
// opened.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.initEventStore(ctx); err != nil {
		return err
	}
	if err := m.initPubSub(ctx); err != nil {
		return err
	}
	if m.opts.RunCoordinator {
		if err := m.initCoordinator(ctx); err != nil {
			return err
		}
	}
	if m.opts.RunWorkers && m.cfg.Worker.Enabled {
		if err := m.initWorkers(); err != nil {
			return err
		}
	}
	if m.opts.RunIngest {
		if err := m.initIngest(); err != nil {
			return err
		}
	}
	if m.opts.RunAPI {
		if err := m.initAPIServer(); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) initEventStore(ctx context.Context) error {
	store, err := storeFactory(ctx, m.cfg.EventStore)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	m.store = store
	m.logger.Info("Connected to event store", "backend", m.cfg.EventStore.Backend)
	return nil
}

func (m *Manager) notifies() bool {
	return m.opts.RunCoordinator && m.cfg.Coordinator.NotifyReady
}

func (m *Manager) subscribes() bool {
	return m.opts.RunWorkers && m.cfg.Worker.Enabled && m.cfg.Worker.Subscribe
}

func (m *Manager) initPubSub(ctx context.Context) error {
	if !m.notifies() && !m.subscribes() {
		return nil
	}
	provider, err := providerFactory(m.cfg.PubSub)
	if err != nil {
		return err
	}
	m.provider = provider
	if c, ok := provider.(pubsub.Connectable); ok {
		if err := c.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect %s provider: %w", m.cfg.PubSub.Provider, err)
		}
	}
	m.logger.Info("Initialized notification transport", "provider", m.cfg.PubSub.Provider)
	return nil
}

func (m *Manager) storageType() pubsub.StorageType {
	if m.cfg.PubSub.NATS.Storage == "file" {
		return pubsub.FileStorage
	}
	return pubsub.MemoryStorage
}

func (m *Manager) initCoordinator(ctx context.Context) error {
	var opts []coordinator.Option
	if m.notifies() {
		pub, err := m.provider.NewPublisher(pubsub.PublisherOptions{
			StreamName:    m.cfg.PubSub.StreamName,
			SubjectPrefix: m.cfg.PubSub.StreamName,
			Storage:       m.storageType(),
			OnPublish:     observePublish,
		})
		if err != nil {
			return fmt.Errorf("failed to create ready publisher: %w", err)
		}
		m.publisher = pub
		opts = append(opts, coordinator.WithNotifier(pub))
	}

	c, err := coordinator.New(ctx, m.store, m.cfg.Coordinator, m.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}
	m.coordinator = c
	return nil
}

func (m *Manager) initIndexStorage() *indexing.MemoryStorage {
	if m.indexStorage == nil {
		m.indexStorage = indexing.NewMemoryStorage()
	}
	return m.indexStorage
}

func (m *Manager) initWorkers() error {
	handler, err := indexing.NewHandlerFromConfig(m.cfg.Indexing, m.initIndexStorage(), m.logger)
	if err != nil {
		return fmt.Errorf("failed to load indexing rules: %w", err)
	}

	var opts []worker.Option
	if m.subscribes() {
		consumer, err := m.provider.NewConsumer(pubsub.ConsumerOptions{
			StreamName:     m.cfg.PubSub.StreamName,
			ConsumerName:   m.cfg.Worker.ConsumerName,
			FilterSubject:  pubsub.Subject(m.cfg.PubSub.StreamName, pubsub.ReadySubjectFilter()),
			ChannelBufSize: m.cfg.Worker.BatchSize,
			Storage:        m.storageType(),
		})
		if err != nil {
			return fmt.Errorf("failed to create ready consumer: %w", err)
		}
		m.consumer = consumer
		opts = append(opts, worker.WithConsumer(consumer))
	}

	pool, err := worker.New(m.store, handler, m.cfg.Worker, m.logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}
	m.pool = pool
	return nil
}

func (m *Manager) initIngest() error {
	ingester, err := ingest.New(m.store, m.logger)
	if err != nil {
		return err
	}
	m.ingester = ingester

	if m.cfg.Ingest.Kafka.Enabled {
		a, err := kafka.NewAdapter(m.cfg.Ingest.Kafka, ingester, m.logger)
		if err != nil {
			return fmt.Errorf("failed to create kafka adapter: %w", err)
		}
		m.kafka = a
	}
	if m.cfg.Ingest.RabbitMQ.Enabled {
		a, err := rabbitmq.NewAdapter(m.cfg.Ingest.RabbitMQ, ingester, m.logger)
		if err != nil {
			return fmt.Errorf("failed to create rabbitmq adapter: %w", err)
		}
		m.rabbit = a
	}
	return nil
}

// initAPIServer registers the API routes. Routes backed by a role this
// process does not run answer 503.
func (m *Manager) initAPIServer() error {
	m.server = server.New(m.cfg.Server, m.logger)

	var (
		coord    rest.Coordinator
		ingester rest.Ingester
		reader   rest.EventReader = m.store
		search   rest.Searcher
	)
	if m.coordinator != nil {
		coord = m.coordinator
	}
	if m.ingester != nil {
		ingester = m.ingester
	}
	if m.indexStorage != nil {
		search = m.indexStorage
	}
	rest.NewHandler(coord, ingester, reader, search, m.logger).RegisterRoutes(m.server.HTTPMux())

	m.logger.Info("Registered API routes", "addr", fmt.Sprintf("%s:%d", m.cfg.Server.Host, m.cfg.Server.HTTPPort))
	return nil
}

// compile-time checks for the API dependencies
var (
	_ rest.Coordinator = (*coordinator.Coordinator)(nil)
	_ rest.Ingester    = (*ingest.Ingester)(nil)
	_ rest.EventReader = (eventstore.Store)(nil)
	_ rest.Searcher    = (*indexing.MemoryStorage)(nil)
)
