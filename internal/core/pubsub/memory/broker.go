package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type broker struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	closed        atomic.Bool
	dropped       atomic.Uint64
}

type subscription struct {
	pattern    string
	msgCh      chan pubsub.Message
	ctx        context.Context
	cancelFunc context.CancelFunc
}

func newBroker() *broker {
	return &broker{
		subscriptions: make(map[string]*subscription),
	}
}

// publish delivers to every matching subscription without blocking. A
// subscriber whose buffer is full misses the message.
func (b *broker) publish(subject string, data []byte) error {
	if b.closed.Load() {
		return ErrEngineClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions {
		if !matchSubject(sub.pattern, subject) {
			continue
		}
		msg := &memoryMessage{
			data:         data,
			subject:      subject,
			timestamp:    time.Now(),
			numDelivered: 1,
			sub:          sub,
			broker:       b,
		}
		select {
		case sub.msgCh <- msg:
		case <-sub.ctx.Done():
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *broker) subscribe(ctx context.Context, name, pattern string, bufSize int) (<-chan pubsub.Message, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrEngineClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscriptions[name] != nil {
		return nil, nil, ErrConsumerSubscribed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		pattern:    pattern,
		msgCh:      make(chan pubsub.Message, bufSize),
		ctx:        subCtx,
		cancelFunc: cancel,
	}
	b.subscriptions[name] = sub

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.subscriptions[name] == sub {
			delete(b.subscriptions, name)
			cancel()
			close(sub.msgCh)
		}
	}
	return sub.msgCh, unsubscribe, nil
}

// redeliver requeues a message, dropping it if the buffer is full.
func (b *broker) redeliver(m *memoryMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed.Load() || m.sub.ctx.Err() != nil {
		return
	}
	select {
	case m.sub.msgCh <- m:
	default:
		b.dropped.Add(1)
	}
}

func (b *broker) close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscriptions {
		sub.cancelFunc()
		close(sub.msgCh)
	}
	b.subscriptions = make(map[string]*subscription)
	return nil
}
