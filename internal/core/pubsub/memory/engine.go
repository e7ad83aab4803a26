// Package memory delivers notifications between the roles of a single
// process. Nothing is persisted; a subscriber that is not listening misses
// what is published.
package memory

import (
	"errors"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

var (
	ErrEngineClosed       = errors.New("engine is closed")
	ErrConsumerSubscribed = errors.New("consumer already has a subscription")
)

var _ pubsub.Provider = (*Engine)(nil)

// Engine routes notifications between publishers and consumers of one
// process.
type Engine struct {
	broker *broker
}

func New() *Engine {
	return &Engine{broker: newBroker()}
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryPublisher{broker: e.broker, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &memoryConsumer{broker: e.broker, opts: opts}, nil
}

// Close closes every subscription channel. Later calls are no-ops.
func (e *Engine) Close() error {
	return e.broker.close()
}

func (e *Engine) IsClosed() bool {
	return e.broker.closed.Load()
}

// Dropped counts deliveries skipped because a subscriber's buffer was full.
func (e *Engine) Dropped() uint64 {
	return e.broker.dropped.Load()
}
