// Package pubsubtest provides in-memory fakes of the pubsub interfaces.
package pubsubtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

var (
	_ pubsub.Publisher = (*Publisher)(nil)
	_ pubsub.Message   = (*Message)(nil)
)

// Published is one call recorded by Publisher.
type Published struct {
	Subject string
	Data    []byte
}

// Publisher records what is published to it. The zero value is ready to use.
type Publisher struct {
	mu      sync.Mutex
	sent    []Published
	failure error
	closed  bool
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

func (p *Publisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return p.failure
	}
	p.sent = append(p.sent, Published{Subject: subject, Data: slices.Clone(data)})
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sent)
}

// Fail makes Publish return err. Fail(nil) restores it.
func (p *Publisher) Fail(err error) {
	p.mu.Lock()
	p.failure = err
	p.mu.Unlock()
}

func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Message is a delivered notification that counts its acks and naks.
type Message struct {
	subject string
	data    []byte
	sentAt  time.Time

	mu   sync.Mutex
	acks int
	naks int
}

func NewMessage(subject string, data []byte) *Message {
	return &Message{subject: subject, data: data, sentAt: time.Now()}
}

func (m *Message) Subject() string { return m.subject }
func (m *Message) Data() []byte    { return m.data }

func (m *Message) Ack() error {
	m.mu.Lock()
	m.acks++
	m.mu.Unlock()
	return nil
}

func (m *Message) Nak() error {
	m.mu.Lock()
	m.naks++
	m.mu.Unlock()
	return nil
}

func (m *Message) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{Subject: m.subject, Timestamp: m.sentAt, NumDelivered: 1}, nil
}

// Counts returns how many times the message was acked and nakked.
func (m *Message) Counts() (acks, naks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.naks
}
