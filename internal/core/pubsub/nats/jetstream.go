package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

// JetStream is the part of jetstream.JetStream the transport needs.
type JetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

func NewJetStream(nc *nats.Conn) (JetStream, error) {
	return jetstream.New(nc)
}

// ensureStream creates the stream capturing subjects, or updates it in place.
func ensureStream(ctx context.Context, js JetStream, name, subjects string, storage pubsub.StorageType) error {
	cfg := jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{subjects},
		Storage:  jetstream.MemoryStorage,
	}
	if storage == pubsub.FileStorage {
		cfg.Storage = jetstream.FileStorage
	}
	if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", name, err)
	}
	return nil
}

type natsMessage struct {
	jetstream.Msg
}

// WrapMessage adapts a JetStream delivery to pubsub.Message.
func WrapMessage(msg jetstream.Msg) pubsub.Message {
	return natsMessage{msg}
}

func (m natsMessage) Metadata() (pubsub.MessageMetadata, error) {
	md, err := m.Msg.Metadata()
	if err != nil {
		return pubsub.MessageMetadata{}, err
	}
	return pubsub.MessageMetadata{
		Subject:      m.Subject(),
		Timestamp:    md.Timestamp,
		NumDelivered: md.NumDelivered,
	}, nil
}
