package memory

import (
	"sync"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

type memoryMessage struct {
	data      []byte
	subject   string
	timestamp time.Time

	sub    *subscription
	broker *broker

	mu           sync.Mutex
	numDelivered uint64
	acked        bool
}

func (m *memoryMessage) Data() []byte    { return m.data }
func (m *memoryMessage) Subject() string { return m.subject }

func (m *memoryMessage) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = true
	return nil
}

// Nak requeues the message once per call unless it was acked.
func (m *memoryMessage) Nak() error {
	m.mu.Lock()
	if m.acked {
		m.mu.Unlock()
		return nil
	}
	m.numDelivered++
	m.mu.Unlock()

	m.broker.redeliver(m)
	return nil
}

func (m *memoryMessage) Metadata() (pubsub.MessageMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return pubsub.MessageMetadata{
		NumDelivered: m.numDelivered,
		Timestamp:    m.timestamp,
		Subject:      m.subject,
	}, nil
}
