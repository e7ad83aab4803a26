// Package rabbitmq consumes status messages from a RabbitMQ queue with
// manual acknowledgement.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/config"
)

const source = "rabbitmq"

// Adapter feeds deliveries to an ingester.
type Adapter struct {
	cfg      config.RabbitMQConfig
	ingester *ingest.Ingester
	logger   *slog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewAdapter creates an adapter. It connects on Start.
func NewAdapter(cfg config.RabbitMQConfig, ingester *ingest.Ingester, logger *slog.Logger) (*Adapter, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With("component", "rabbitmq-ingest"),
		closed:   make(chan struct{}),
	}, nil
}

// Start declares the topology, starts consuming and returns.
func (a *Adapter) Start(ctx context.Context) error {
	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	fail := func(format string, err error) error {
		ch.Close()
		conn.Close()
		return fmt.Errorf(format, err)
	}
	if err := ch.Qos(a.cfg.PrefetchCount, 0, false); err != nil {
		return fail("failed to set prefetch: %w", err)
	}
	if err := ch.ExchangeDeclare(a.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, true, false, false, false, nil); err != nil {
		return fail("failed to declare queue: %w", err)
	}
	for _, key := range a.cfg.RoutingKeys {
		if err := ch.QueueBind(a.cfg.Queue, key, a.cfg.Exchange, false, nil); err != nil {
			return fail("failed to bind queue: %w", err)
		}
	}
	deliveries, err := ch.Consume(a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fail("failed to consume queue: %w", err)
	}
	a.conn, a.ch = conn, ch

	for i := 0; i < a.cfg.Workers; i++ {
		a.wg.Add(1)
		go a.workerLoop(ctx, deliveries)
	}
	a.logger.Info("rabbitmq ingest started", "queue", a.cfg.Queue, "exchange", a.cfg.Exchange)
	return nil
}

// Close cancels the consumer, waits for in-flight deliveries and closes the
// connection.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.closed)
		if a.ch != nil {
			_ = a.ch.Cancel(a.cfg.ConsumerTag, false)
		}
		a.wg.Wait()
		var errs []error
		if a.ch != nil {
			errs = append(errs, a.ch.Close())
		}
		if a.conn != nil {
			errs = append(errs, a.conn.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}

func (a *Adapter) workerLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.closed:
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			a.processDelivery(ctx, d)
		}
	}
}

// processDelivery acks stored, duplicate and invalid messages, and requeues
// messages that failed to store.
func (a *Adapter) processDelivery(ctx context.Context, d amqp.Delivery) {
	ref := d.MessageId
	if ref == "" {
		ref = fmt.Sprintf("%s/%s/%d", d.Exchange, d.RoutingKey, d.DeliveryTag)
	}
	_, err := a.ingester.Ingest(ctx, source, ref, d.Body)
	switch {
	case err == nil, errors.Is(err, eventstore.ErrDuplicateEvent):
		err = d.Ack(false)
	case errors.Is(err, ingest.ErrInvalidMessage), errors.Is(err, ingest.ErrInadmissible):
		a.logger.Warn("dropping status message", "ref", ref, "error", err)
		err = d.Nack(false, false)
	default:
		a.logger.Warn("failed to store status message", "ref", ref, "error", err)
		err = d.Nack(false, true)
	}
	if err != nil {
		a.logger.Warn("failed to acknowledge delivery", "ref", ref, "error", err)
	}
}
