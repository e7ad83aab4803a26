// Package nats implements the notification transport on NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/syntrixbase/searchindexer/internal/core/pubsub"
)

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

// dialFunc connects to url and creates a JetStream context.
type dialFunc func(url string) (natsConnection, JetStream, error)

var defaultDial dialFunc = func(url string) (natsConnection, JetStream, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, nil, err
	}
	js, err := NewJetStream(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream: %w", err)
	}
	return nc, js, nil
}

// Provider implements pubsub.Provider using NATS JetStream.
type Provider struct {
	url  string
	nc   natsConnection
	js   JetStream
	dial dialFunc
}

// Compile-time check that Provider implements pubsub.Provider
var _ pubsub.Provider = (*Provider)(nil)

var _ pubsub.Connectable = (*Provider)(nil)

// NewProvider creates a provider for url. Connect must be called before use.
func NewProvider(url string) *Provider {
	return &Provider{url: url, dial: defaultDial}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(_ context.Context) error {
	nc, js, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}
	p.nc = nc
	p.js = js
	slog.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewPublisher(p.js, opts)
}

func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewConsumer(p.js, opts)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		slog.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}
