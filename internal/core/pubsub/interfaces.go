// Package pubsub is the notification transport between the coordinator and
// the indexing workers. Delivery is best effort: a notification is only a
// hint that an event became READY, and the event store stays authoritative.
package pubsub

import (
	"context"
	"time"
)

// Message is a received notification.
type Message interface {
	// Data returns the raw message payload.
	Data() []byte

	// Subject returns the message subject.
	Subject() string

	// Ack acknowledges the message.
	Ack() error

	// Nak requests redelivery where the transport supports it.
	Nak() error

	// Metadata returns delivery metadata.
	Metadata() (MessageMetadata, error)
}

// MessageMetadata contains delivery information about a message.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
}

// Publisher publishes notifications.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Consumer receives notifications.
type Consumer interface {
	// Subscribe starts consuming and returns a channel that is closed when
	// ctx is cancelled or the transport shuts down.
	Subscribe(ctx context.Context) (<-chan Message, error)
}
