package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type jetStreamConsumer struct {
	js   JetStream
	opts pubsub.ConsumerOptions
}

// NewConsumer creates a consumer that binds a durable, explicitly acked
// JetStream consumer on Subscribe.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	switch {
	case js == nil:
		return nil, errors.New("jetstream cannot be nil")
	case opts.StreamName == "":
		return nil, errors.New("stream name is required")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}
	if opts.FilterSubject == "" {
		opts.FilterSubject = opts.StreamName + ".>"
	}
	return &jetStreamConsumer{js: js, opts: opts}, nil
}

func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	if err := ensureStream(ctx, c.js, c.opts.StreamName, c.opts.StreamName+".>", c.opts.Storage); err != nil {
		return nil, err
	}

	durable, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       c.opts.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: c.opts.FilterSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	sub := &subscription{ctx: ctx, out: make(chan pubsub.Message, c.opts.ChannelBufSize)}
	cc, err := durable.Consume(sub.deliver)
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	log := slog.With("stream", c.opts.StreamName, "consumer", c.opts.ConsumerName)
	log.Info("Consumer subscribed")
	context.AfterFunc(ctx, func() {
		cc.Stop()
		sub.close()
		log.Info("Consumer stopped")
	})
	return sub.out, nil
}

// subscription hands JetStream deliveries to out until closed. Deliveries
// that arrive after close are nakked so the server redelivers them.
type subscription struct {
	ctx context.Context

	mu     sync.RWMutex
	closed bool
	out    chan pubsub.Message
}

func (s *subscription) deliver(msg jetstream.Msg) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		_ = msg.Nak()
		return
	}
	select {
	case s.out <- WrapMessage(msg):
	case <-s.ctx.Done():
		_ = msg.Nak()
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}
