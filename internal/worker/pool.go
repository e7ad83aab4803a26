// Package worker runs the indexing workers. Workers claim READY events from
// the event store, apply them to the search index and record the outcome.
// They never touch the coordinator's queue; the coordinator notices finished
// events by re-reading the store.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"
	"github.com/syntrixbase/searchindexer/internal/worker/config"
)

// Handler applies one event and returns its final state.
type Handler interface {
	Handle(ctx context.Context, ev events.StoredEvent) (events.ProcessingState, error)
}

// Option configures a Pool.
type Option func(*Pool)

// WithConsumer wakes the pool on ready notifications.
func WithConsumer(c pubsub.Consumer) Option {
	return func(p *Pool) {
		p.consumer = c
	}
}

// WithRetrier sets the retrier used for event store calls.
func WithRetrier(r *retry.Retrier) Option {
	return func(p *Pool) {
		p.retrier = r
	}
}

// Pool dispatches READY events to a fixed number of worker goroutines.
// Events are partitioned by grouping key, so one key is handled by one
// goroutine at a time.
type Pool struct {
	store    eventstore.Store
	handler  Handler
	cfg      config.Config
	consumer pubsub.Consumer
	retrier  *retry.Retrier
	logger   *slog.Logger
	id       string

	wake chan struct{}

	mu       sync.Mutex
	inflight map[events.EventID]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a pool.
func New(store eventstore.Store, handler Handler, cfg config.Config, logger *slog.Logger, opts ...Option) (*Pool, error) {
	if store == nil || handler == nil {
		return nil, fmt.Errorf("event store and handler are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:    store,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With("component", "worker-pool"),
		id:       uuid.NewString(),
		wake:     make(chan struct{}, 1),
		inflight: make(map[events.EventID]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retrier == nil {
		p.retrier = retry.Default(func(attempt int, ev *events.StoredEvent, err error) {
			p.logger.Warn("retriable error in worker", "retry", attempt, "error", err)
		})
	}
	return p, nil
}

// ID identifies this pool in state notes.
func (p *Pool) ID() string {
	return p.id
}

// Start launches the dispatcher, the workers and, when configured, the
// notification listener.
func (p *Pool) Start(ctx context.Context) error {
	if p.cancel != nil {
		return fmt.Errorf("worker pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)

	var msgs <-chan pubsub.Message
	if p.consumer != nil {
		var err error
		msgs, err = p.consumer.Subscribe(ctx)
		if err != nil {
			p.cancel()
			return fmt.Errorf("failed to subscribe to ready notifications: %w", err)
		}
		p.wg.Add(1)
		go p.listen(msgs)
	}

	chans := make([]chan events.StoredEvent, p.cfg.Workers)
	for i := range chans {
		chans[i] = make(chan events.StoredEvent, p.cfg.BatchSize)
		p.wg.Add(1)
		go p.workerLoop(ctx, i, chans[i])
	}
	p.wg.Add(1)
	go p.dispatchLoop(ctx, chans)

	p.logger.Info("worker pool started", "id", p.id, "workers", p.cfg.Workers, "subscribed", p.consumer != nil)
	return nil
}

// Stop stops polling and waits for in-flight events to finish.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out")
		return ctx.Err()
	}
	return nil
}

// Wake triggers a poll without waiting for the next interval.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) listen(msgs <-chan pubsub.Message) {
	defer p.wg.Done()
	for msg := range msgs {
		n, err := pubsub.DecodeReadyNotification(msg.Data())
		if err != nil {
			p.logger.Warn("dropping invalid ready notification", "subject", msg.Subject(), "error", err)
		} else {
			p.logger.Debug("ready notification", "id", n.ID, "type", n.Type)
		}
		if err := msg.Ack(); err != nil {
			p.logger.Warn("failed to ack ready notification", "error", err)
		}
		p.Wake()
	}
}

func (p *Pool) dispatchLoop(ctx context.Context, chans []chan events.StoredEvent) {
	defer p.wg.Done()
	defer func() {
		for _, ch := range chans {
			close(ch)
		}
	}()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx, chans); err != nil && ctx.Err() == nil {
			p.logger.Error("failed to poll ready events", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *Pool) poll(ctx context.Context, chans []chan events.StoredEvent) error {
	evs, err := retry.RetryFunc(ctx, p.retrier, nil, func(ctx context.Context) ([]events.StoredEvent, error) {
		return p.store.GetByState(ctx, events.StateReady, p.cfg.BatchSize)
	})
	if err != nil {
		return err
	}
	for _, ev := range evs {
		if !p.markInflight(ev.ID) {
			continue
		}
		ch := chans[partition(ev.Event.GroupingKey, len(chans))]
		select {
		case ch <- ev:
		case <-ctx.Done():
			p.clearInflight(ev.ID)
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pool) workerLoop(ctx context.Context, id int, ch <-chan events.StoredEvent) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	for ev := range ch {
		if ctx.Err() == nil {
			p.process(ctx, ev, logger)
		}
		p.clearInflight(ev.ID)
	}
}

// process claims ev, handles it and records the outcome. Once claimed the
// event is finished even if the pool is stopping, so it is not left in PROC.
func (p *Pool) process(ctx context.Context, ev events.StoredEvent, logger *slog.Logger) {
	claimed, err := retry.RetryFunc(ctx, p.retrier, &ev, func(ctx context.Context) (bool, error) {
		return p.store.SetProcessingState(ctx, ev.ID, events.StateReady, events.StateProcessing, "claimed by "+p.id)
	})
	if err != nil {
		logger.Error("failed to claim event", "id", ev.ID, "error", err)
		return
	}
	if !claimed {
		logger.Debug("event claimed elsewhere", "id", ev.ID)
		return
	}
	ev.State = events.StateProcessing

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.HandleTimeout)
	defer cancel()

	start := time.Now()
	state, herr := p.handler.Handle(hctx, ev)
	HandleDuration.Observe(time.Since(start).Seconds())

	note := ""
	if herr != nil {
		state = events.StateFailed
		note = herr.Error()
		logger.Warn("failed to handle event", "id", ev.ID, "type", ev.Event.Type, "error", herr)
	}

	// The handler may have used up hctx, so the outcome gets its own budget.
	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), resultTimeout)
	defer rcancel()
	moved, err := retry.RetryFunc(rctx, p.retrier, &ev, func(ctx context.Context) (bool, error) {
		return p.store.SetProcessingState(ctx, ev.ID, events.StateProcessing, state, note)
	})
	if err != nil {
		logger.Error("failed to record event state", "id", ev.ID, "state", state, "error", err)
		return
	}
	if !moved {
		logger.Warn("event left PROC while being handled", "id", ev.ID)
		return
	}
	EventsHandled.WithLabelValues(string(state)).Inc()
	logger.Info("event handled", "id", ev.ID, "type", ev.Event.Type, "state", state)
}

func (p *Pool) markInflight(id events.EventID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.inflight[id]; ok {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pool) clearInflight(id events.EventID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}

// resultTimeout bounds recording the outcome of a handled event.
const resultTimeout = 10 * time.Second

func partition(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}
