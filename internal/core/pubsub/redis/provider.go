// Package redis implements the notification transport on Redis Pub/Sub.
//
// Redis Pub/Sub keeps nothing for absent subscribers, which fits ready
// notifications: a missed notification is recovered by the workers' store
// poll.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
}

type client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	PSubscribe(ctx context.Context, channels ...string) *redis.PubSub
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Provider implements pubsub.Provider on a Redis client.
type Provider struct {
	opts   Options
	client client
}

// Compile-time check that Provider implements pubsub.Provider
var _ pubsub.Provider = (*Provider)(nil)

var _ pubsub.Connectable = (*Provider)(nil)

// NewProvider creates a provider. Connect must be called before use.
func NewProvider(opts Options) *Provider {
	return &Provider{opts: opts}
}

// Connect creates the client and pings the server.
func (p *Provider) Connect(ctx context.Context) error {
	c := redis.NewClient(&redis.Options{
		Username: p.opts.Username,
		Addr:     p.opts.Addr,
		Password: p.opts.Password,
		DB:       p.opts.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return fmt.Errorf("failed to connect to redis at %s: %w", p.opts.Addr, err)
	}
	p.client = c
	slog.Info("Connected to Redis", "addr", p.opts.Addr)
	return nil
}

func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.client == nil {
		return nil, fmt.Errorf("redis not connected, call Connect first")
	}
	return &publisher{client: p.client, opts: opts}, nil
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.client == nil {
		return nil, fmt.Errorf("redis not connected, call Connect first")
	}
	if opts.ChannelBufSize <= 0 {
		opts.ChannelBufSize = pubsub.DefaultConsumerOptions().ChannelBufSize
	}
	return &consumer{client: p.client, opts: opts}, nil
}

func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

type publisher struct {
	client client
	opts   pubsub.PublisherOptions
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	start := time.Now()
	fullSubject := pubsub.Subject(p.opts.SubjectPrefix, subject)

	err := p.client.Publish(ctx, fullSubject, data).Err()

	if p.opts.OnPublish != nil {
		p.opts.OnPublish(fullSubject, err, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", fullSubject, err)
	}
	return nil
}

func (p *publisher) Close() error { return nil }

type consumer struct {
	client client
	opts   pubsub.ConsumerOptions
}

func (c *consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	pattern := c.opts.FilterSubject
	if pattern == "" {
		pattern = c.opts.StreamName + ".>"
	}

	ps := c.client.PSubscribe(ctx, toGlob(pattern))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}

	in := ps.Channel(redis.WithChannelSize(c.opts.ChannelBufSize))
	out := make(chan pubsub.Message, c.opts.ChannelBufSize)

	go func() {
		defer close(out)
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- &message{subject: m.Channel, data: []byte(m.Payload), received: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// toGlob converts a NATS style subject pattern to a Redis glob. Redis globs
// do not respect token boundaries, so "*" may match across dots.
func toGlob(pattern string) string {
	parts := strings.Split(pattern, ".")
	for i, p := range parts {
		if p == ">" || p == "*" {
			parts[i] = "*"
		}
	}
	return strings.Join(parts, ".")
}

type message struct {
	subject  string
	data     []byte
	received time.Time
}

func (m *message) Data() []byte    { return m.data }
func (m *message) Subject() string { return m.subject }
func (m *message) Ack() error      { return nil }
func (m *message) Nak() error      { return nil }

func (m *message) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{NumDelivered: 1, Timestamp: m.received, Subject: m.subject}, nil
}
