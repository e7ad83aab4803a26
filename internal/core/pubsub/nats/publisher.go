package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type jetStreamPublisher struct {
	js      JetStream
	opts    pubsub.PublisherOptions
	pubOpts []jetstream.PublishOpt
}

// NewPublisher creates a publisher. With a stream name set, the stream is
// created up front so nothing published before the first consumer is lost.
func NewPublisher(js JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, errors.New("jetstream cannot be nil")
	}
	if opts.StreamName != "" {
		root := opts.SubjectPrefix
		if root == "" {
			root = opts.StreamName
		}
		if err := ensureStream(context.Background(), js, opts.StreamName, root+".>", opts.Storage); err != nil {
			return nil, err
		}
	}

	p := &jetStreamPublisher{js: js, opts: opts}
	if opts.RetryAttempts > 0 {
		p.pubOpts = append(p.pubOpts, jetstream.WithRetryAttempts(opts.RetryAttempts))
	}
	return p, nil
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	subject = pubsub.Subject(p.opts.SubjectPrefix, subject)
	began := time.Now()
	_, err := p.js.Publish(ctx, subject, data, p.pubOpts...)
	if hook := p.opts.OnPublish; hook != nil {
		hook(subject, err, time.Since(began))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the Provider.
func (p *jetStreamPublisher) Close() error {
	return nil
}
