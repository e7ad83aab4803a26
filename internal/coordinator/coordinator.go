// Package coordinator runs the indexer coordinator: a single loop that admits
// UNPROC events from the event store into the in-memory queue, marks the ones
// the queue allows as READY for the indexing workers, and drops them from the
// queue once a worker has moved them to a final state.
//
// Only one coordinator may run against an event store at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchindexer/internal/coordinator/config"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/queue"
	"github.com/syntrixbase/searchindexer/internal/retry"
)

var (
	// ErrAlreadyStarted is returned by Start when the loop was started before.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotRunning is returned by control calls when the loop is not running.
	ErrNotRunning = errors.New("coordinator is not running")
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier publishes a ready notification for every event moved to READY.
func WithNotifier(p pubsub.Publisher) Option {
	return func(c *Coordinator) {
		c.notifier = p
	}
}

// WithRetrier replaces the retrier built from the configuration.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Coordinator) {
		c.retrier = r
	}
}

// Coordinator owns the event queue and drives it from the event store.
type Coordinator struct {
	store    eventstore.Store
	cfg      config.Config
	logger   *slog.Logger
	retrier  *retry.Retrier
	notifier pubsub.Publisher

	// queue is only touched by the loop goroutine once Start was called.
	queue    *queue.EventQueue
	commands chan command

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}

	running          atomic.Bool
	queueSize        atomic.Int64
	continuousCycles atomic.Int64
	blocked          atomic.Bool
	blockTime        atomic.Pointer[time.Time]
}

type command struct {
	apply  func(q *queue.EventQueue) error
	result chan error
}

// New creates a coordinator and rebuilds its queue from the events that are
// READY or PROC in the store, so a restarted coordinator resumes where the
// previous one stopped.
func New(ctx context.Context, store eventstore.Store, cfg config.Config, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		store:    store,
		cfg:      cfg,
		logger:   logger.With("component", "coordinator"),
		commands: make(chan command),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		r, err := retry.New(cfg.Retry.Attempts, cfg.Retry.Delay, cfg.Retry.FatalBackoff, c.logRetry)
		if err != nil {
			return nil, err
		}
		c.retrier = r
	}

	var initial []events.StoredEvent
	for _, state := range []events.ProcessingState{events.StateReady, events.StateProcessing} {
		evs, err := retry.RetryFunc(ctx, c.retrier, nil, func(ctx context.Context) ([]events.StoredEvent, error) {
			return c.store.GetByState(ctx, state, cfg.MaxQueueSize)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s events: %w", state, err)
		}
		initial = append(initial, evs...)
	}
	q, err := queue.NewEventQueueFrom(initial)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild event queue: %w", err)
	}
	c.queue = q
	c.syncState()

	c.logger.Info("coordinator initialized",
		"max_queue_size", cfg.MaxQueueSize,
		"resumed_events", len(initial))
	return c, nil
}

// Start runs the first cycle immediately and then one every CycleInterval.
// Cycles never overlap. The loop stops on Stop, when ctx is cancelled, or
// after a fatal error.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.stop = make(chan struct{})
	c.running.Store(true)

	go c.run(ctx, c.stop)

	c.logger.Info("coordinator started", "cycle_interval", c.cfg.CycleInterval)
	return nil
}

// Stop prevents further cycles and waits for the in-flight one to finish.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		c.logger.Info("coordinator stopped gracefully")
		return nil
	case <-ctx.Done():
		c.logger.Warn("coordinator stop timed out")
		return ctx.Err()
	}
}

// Done is closed when the loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// IsRunning reports whether the loop is running.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// QueueSize returns the number of events in the queue as of the last cycle.
func (c *Coordinator) QueueSize() int {
	return int(c.queueSize.Load())
}

// MaxQueueSize returns the configured queue capacity.
func (c *Coordinator) MaxQueueSize() int {
	return c.cfg.MaxQueueSize
}

// ContinuousCycles returns how many cycles the latest scheduled run went
// through without waiting for the next tick.
func (c *Coordinator) ContinuousCycles() int {
	return int(c.continuousCycles.Load())
}

// BlockTime returns the current drain block time, if one is set.
func (c *Coordinator) BlockTime() (time.Time, bool) {
	if !c.blocked.Load() {
		return time.Time{}, false
	}
	return *c.blockTime.Load(), true
}

// DrainAndBlockAt stops events with a timestamp at or after t from becoming
// ready. Events already admitted keep flowing.
func (c *Coordinator) DrainAndBlockAt(ctx context.Context, t time.Time) error {
	return c.send(ctx, func(q *queue.EventQueue) error {
		return q.DrainAndBlockAt(t)
	})
}

// RemoveBlock clears the drain block.
func (c *Coordinator) RemoveBlock(ctx context.Context) error {
	return c.send(ctx, func(q *queue.EventQueue) error {
		q.RemoveBlock()
		return nil
	})
}

// send hands a queue mutation to the loop goroutine and waits for it to be
// applied between cycles.
func (c *Coordinator) send(ctx context.Context, apply func(q *queue.EventQueue) error) error {
	if !c.IsRunning() {
		return ErrNotRunning
	}
	cmd := command{apply: apply, result: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, stop <-chan struct{}) {
	defer close(c.done)
	defer c.running.Store(false)

	ticker := time.NewTicker(c.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		if !c.tick(ctx, stop) {
			return
		}
		if !c.wait(ctx, stop, ticker.C) {
			return
		}
	}
}

// wait blocks until the next tick, applying control commands meanwhile. It
// returns false when the loop should exit.
func (c *Coordinator) wait(ctx context.Context, stop <-chan struct{}, tick <-chan time.Time) bool {
	for {
		select {
		case <-stop:
			return false
		case <-ctx.Done():
			c.logger.Info("coordinator context cancelled")
			return false
		case cmd := <-c.commands:
			err := cmd.apply(c.queue)
			c.syncState()
			cmd.result <- err
		case <-tick:
			return true
		}
	}
}

// tick runs one scheduled cycle and classifies its failure. It returns false
// when the loop must shut down.
func (c *Coordinator) tick(ctx context.Context, stop <-chan struct{}) bool {
	err := c.safeRunOneCycle(ctx, stop)
	if err == nil {
		return true
	}
	if retry.IsFatal(err) || retry.IsInterrupt(err) {
		Errors.WithLabelValues("fatal").Inc()
		c.logger.Error("fatal error in indexer, shutting down", "error", err)
		return false
	}
	Errors.WithLabelValues("unexpected").Inc()
	c.logger.Error("unexpected error in indexer", "error", err)
	return true
}

func (c *Coordinator) safeRunOneCycle(ctx context.Context, stop <-chan struct{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in indexer cycle: %v", r)
		}
	}()
	return c.runOneCycle(ctx, stop)
}

// runOneCycle loads, promotes and reconciles events, and repeats at once as
// long as new events were loaded and the queue has room.
func (c *Coordinator) runOneCycle(ctx context.Context, stop <-chan struct{}) error {
	start := time.Now()
	c.continuousCycles.Store(0)
	loadedTotal := 0
	defer func() {
		c.syncState()
		CycleDuration.Observe(time.Since(start).Seconds())
		c.logger.Debug("indexer cycle finished",
			"duration", time.Since(start),
			"continuous_cycles", c.continuousCycles.Load(),
			"loaded", loadedTotal,
			"queue_size", c.queue.Size())
	}()

	for {
		loaded, err := c.loadEventsIntoQueue(ctx)
		if err != nil {
			return err
		}
		loadedTotal += loaded
		c.queue.MoveToReady()
		if err := c.setEventsAsReadyInStorage(ctx); err != nil {
			return err
		}
		// so the same events are not offered again next time round
		c.queue.MoveReadyToProcessing()
		if err := c.checkOnEventsInProcess(ctx); err != nil {
			return err
		}
		c.continuousCycles.Add(1)
		CyclesTotal.Inc()
		c.syncState()

		if loaded == 0 || c.queue.Size() >= c.cfg.MaxQueueSize {
			return nil
		}
		select {
		case <-stop:
			return nil
		default:
		}
	}
}

// loadEventsIntoQueue admits up to the free capacity of UNPROC events. Events
// loaded earlier but still waiting in the queue are UNPROC in the store too,
// so the query asks for that many more and skips them.
func (c *Coordinator) loadEventsIntoQueue(ctx context.Context) (int, error) {
	room := c.cfg.MaxQueueSize - c.queue.Size()
	if room <= 0 {
		return 0, nil
	}
	limit := room + c.queue.Pending()
	evs, err := retry.RetryFunc(ctx, c.retrier, nil, func(ctx context.Context) ([]events.StoredEvent, error) {
		return c.store.GetByState(ctx, events.StateUnprocessed, limit)
	})
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, ev := range evs {
		if loaded >= room {
			break
		}
		if c.queue.Contains(ev) {
			continue
		}
		if err := c.queue.Load(ev); err != nil {
			EventsLoaded.Add(float64(loaded))
			return loaded, fmt.Errorf("failed to load event %s: %w", ev.ID, err)
		}
		loaded++
	}
	EventsLoaded.Add(float64(loaded))
	return loaded, nil
}

// setEventsAsReadyInStorage moves ready events from UNPROC to READY in the
// store. The queue never changes the state it holds, so a copy that is not
// UNPROC was already READY in the store when it was loaded.
func (c *Coordinator) setEventsAsReadyInStorage(ctx context.Context) error {
	ready := c.queue.ReadyForProcessing()
	var err error
	ready.Each(func(ev events.StoredEvent) bool {
		if ev.State != events.StateUnprocessed {
			return true
		}
		var moved bool
		moved, err = retry.RetryFunc(ctx, c.retrier, &ev, func(ctx context.Context) (bool, error) {
			return c.store.SetProcessingState(ctx, ev.ID, events.StateUnprocessed, events.StateReady, "")
		})
		if err != nil {
			return false
		}
		if !moved {
			c.logger.Warn("event was no longer UNPROC when marking it READY",
				"id", ev.ID, "type", ev.Event.Type, "key", ev.Event.GroupingKey)
			return true
		}
		EventsReady.Inc()
		c.logger.Info("moved event to ready",
			"id", ev.ID,
			"type", ev.Event.Type,
			"key", ev.Event.GroupingKey,
			"from", events.StateUnprocessed,
			"to", events.StateReady)
		c.notify(ctx, ev)
		return true
	})
	return err
}

// notify publishes a ready notification. Workers poll the store as well, so a
// failed publish is only logged.
func (c *Coordinator) notify(ctx context.Context, ev events.StoredEvent) {
	if c.notifier == nil {
		return
	}
	n := pubsub.NewReadyNotification(ev)
	data, err := n.Encode()
	if err == nil {
		err = c.notifier.Publish(ctx, n.Subject(), data)
	}
	if err != nil {
		Errors.WithLabelValues("notify").Inc()
		c.logger.Warn("failed to publish ready notification", "id", ev.ID, "error", err)
	}
}

// checkOnEventsInProcess drops events from the queue once a worker has moved
// them past PROC in the store.
func (c *Coordinator) checkOnEventsInProcess(ctx context.Context) error {
	processing := c.queue.Processing()
	var err error
	processing.Each(func(ev events.StoredEvent) bool {
		var stored events.StoredEvent
		stored, err = retry.RetryFunc(ctx, c.retrier, &ev, func(ctx context.Context) (events.StoredEvent, error) {
			return c.store.Get(ctx, ev.ID)
		})
		if errors.Is(err, eventstore.ErrEventNotFound) {
			c.logger.Error("event is in the in-memory queue but not in the event store, removing from queue",
				"id", ev.ID)
			EventsAbandoned.Inc()
			err = c.queue.SetProcessingComplete(ev)
			return err == nil
		}
		if err != nil {
			return false
		}
		if stored.State == events.StateProcessing || stored.State == events.StateReady {
			return true
		}
		if err = c.queue.SetProcessingComplete(ev); err != nil {
			return false
		}
		EventsCompleted.WithLabelValues(string(stored.State)).Inc()
		c.logger.Info("event completed processing",
			"id", ev.ID,
			"type", ev.Event.Type,
			"key", ev.Event.GroupingKey,
			"state", stored.State)
		return true
	})
	return err
}

func (c *Coordinator) syncState() {
	size := c.queue.Size()
	c.queueSize.Store(int64(size))
	QueueSize.Set(float64(size))
	if t, ok := c.queue.BlockTime(); ok {
		c.blockTime.Store(&t)
		c.blocked.Store(true)
	} else {
		c.blocked.Store(false)
	}
}

func (c *Coordinator) logRetry(attempt int, ev *events.StoredEvent, err error) {
	Retries.Inc()
	if ev != nil {
		c.logger.Warn("retriable error in indexer",
			"id", ev.ID,
			"type", ev.Event.Type,
			"retry", attempt,
			"error", err)
		return
	}
	c.logger.Warn("retriable error in indexer", "retry", attempt, "error", err)
}
