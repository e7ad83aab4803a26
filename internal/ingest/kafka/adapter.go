// Package kafka consumes status messages from Kafka topics. Offsets are
// committed only after a message is stored, or found to be stored already.
package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/config"
	"github.com/twmb/franz-go/pkg/kgo"
)

const source = "kafka"

// Adapter feeds Kafka records to an ingester.
type Adapter struct {
	cfg      config.KafkaConfig
	ingester *ingest.Ingester
	logger   *slog.Logger

	client  *kgo.Client
	records chan *kgo.Record
	acks    chan recordAck

	pauseMu sync.Mutex
	paused  bool

	markCommit   func(*kgo.Record)
	commitMarked func(context.Context) error
	pauseFetch   func(...string)
	resumeFetch  func(...string)
}

type recordAck struct {
	record *kgo.Record
	err    error
}

// NewAdapter creates the consumer group client. Extra kgo options are
// appended to the ones derived from cfg.
func NewAdapter(cfg config.KafkaConfig, ingester *ingest.Ingester, logger *slog.Logger, opts ...kgo.Opt) (*Adapter, error) {
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.FetchMaxWait > 0 {
		kopts = append(kopts, kgo.FetchMaxWait(cfg.FetchMaxWait))
	}
	if cfg.TLS {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	kopts = append(kopts, opts...)

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	a := newAdapter(cfg, ingester, logger)
	a.client = cl
	a.markCommit = func(r *kgo.Record) { cl.MarkCommitRecords(r) }
	a.commitMarked = func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) }
	a.pauseFetch = func(topics ...string) { cl.PauseFetchTopics(topics...) }
	a.resumeFetch = func(topics ...string) { cl.ResumeFetchTopics(topics...) }
	return a, nil
}

func newAdapter(cfg config.KafkaConfig, ingester *ingest.Ingester, logger *slog.Logger) *Adapter {
	return &Adapter{
		cfg:      cfg,
		ingester: ingester,
		logger:   logger.With("component", "kafka-ingest"),
		records:  make(chan *kgo.Record, cfg.QueueCapacity),
		acks:     make(chan recordAck, cfg.QueueCapacity),
	}
}

// Run polls until ctx is cancelled or the client reports a fetch error.
// It closes the client on return.
func (a *Adapter) Run(ctx context.Context) error {
	defer a.client.Close()

	var workers sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			a.runWorker(ctx)
		}()
	}
	ackDone := make(chan struct{})
	go func() {
		defer close(ackDone)
		a.handleAcks(ctx)
	}()
	defer func() {
		close(a.records)
		workers.Wait()
		close(a.acks)
		<-ackDone
	}()

	a.logger.Info("kafka ingest started", "topics", a.cfg.Topics, "group", a.cfg.GroupID)
	for {
		fetches := a.client.PollRecords(ctx, a.cfg.MaxPollRecords)
		if ctx.Err() != nil {
			return nil
		}
		if fetches.IsClientClosed() {
			return nil
		}
		var fetchErr error
		fetches.EachError(func(topic string, partition int32, err error) {
			if fetchErr == nil && !errors.Is(err, context.Canceled) {
				fetchErr = fmt.Errorf("fetch %s/%d: %w", topic, partition, err)
			}
		})
		if fetchErr != nil {
			return fetchErr
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			a.enqueue(ctx, rec)
		})
		a.client.AllowRebalance()
	}
}

func (a *Adapter) enqueue(ctx context.Context, rec *kgo.Record) {
	for {
		select {
		case a.records <- rec:
			a.maybeResume()
			return
		case <-ctx.Done():
			return
		default:
			a.maybePause()
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func (a *Adapter) runWorker(ctx context.Context) {
	for rec := range a.records {
		_, err := a.ingester.Ingest(ctx, source, recordRef(rec), rec.Value)
		a.acks <- recordAck{record: rec, err: err}
	}
}

// handleAcks commits stored and duplicate records. Invalid messages are
// committed too so a poison record does not stall its partition; store
// failures are left uncommitted for redelivery.
func (a *Adapter) handleAcks(ctx context.Context) {
	for ack := range a.acks {
		if ack.record == nil {
			continue
		}
		if ack.err != nil && !committable(ack.err) {
			a.logger.Warn("failed to store status message", "ref", recordRef(ack.record), "error", ack.err)
			continue
		}
		if ack.err != nil && !errors.Is(ack.err, eventstore.ErrDuplicateEvent) {
			a.logger.Warn("dropping status message", "ref", recordRef(ack.record), "error", ack.err)
		}
		a.markCommit(ack.record)
		if err := a.commitMarked(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to commit offsets", "error", err)
		}
	}
}

func committable(err error) bool {
	return errors.Is(err, eventstore.ErrDuplicateEvent) ||
		errors.Is(err, ingest.ErrInvalidMessage) ||
		errors.Is(err, ingest.ErrInadmissible)
}

func recordRef(rec *kgo.Record) string {
	return fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset)
}

func (a *Adapter) maybePause() {
	a.pauseMu.Lock()
	defer a.pauseMu.Unlock()
	if a.paused || len(a.records) < cap(a.records) {
		return
	}
	a.pauseFetch(a.cfg.Topics...)
	a.paused = true
}

func (a *Adapter) maybeResume() {
	a.pauseMu.Lock()
	defer a.pauseMu.Unlock()
	if !a.paused || len(a.records) > cap(a.records)/2 {
		return
	}
	a.resumeFetch(a.cfg.Topics...)
	a.paused = false
}
