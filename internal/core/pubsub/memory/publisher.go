package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type memoryPublisher struct {
	broker *broker
	opts   pubsub.PublisherOptions
	closed atomic.Bool
}

func (p *memoryPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.closed.Load() {
		return ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	fullSubject := pubsub.Subject(p.opts.SubjectPrefix, subject)
	err := p.broker.publish(fullSubject, data)

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	return err
}

func (p *memoryPublisher) Close() error {
	p.closed.Store(true)
	return nil
}
