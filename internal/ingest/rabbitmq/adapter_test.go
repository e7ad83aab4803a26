package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/memory"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/config"
)

type ackRecorder struct {
	ack     int
	nack    int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.ack++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nack++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(uint64, bool) error { return nil }

// baseStore names the embedded store so its Store method is promoted.
type baseStore = eventstore.Store

type failingStore struct {
	baseStore
}

func (failingStore) Store(context.Context, events.EventID, events.Event, events.ProcessingState) (events.StoredEvent, error) {
	return events.StoredEvent{}, errors.New("database unavailable")
}

const valid = `{"timestamp":1000,"type":"NEW_VERSION","storageCode":"WS","accessGroupId":1,"objectId":"2","version":1}`

func newTestAdapter(t *testing.T, s eventstore.Store) *Adapter {
	t.Helper()
	in, err := ingest.New(s, nil)
	require.NoError(t, err)
	a, err := NewAdapter(config.DefaultConfig().RabbitMQ, in, nil)
	require.NoError(t, err)
	return a
}

func delivery(rec *ackRecorder, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: rec,
		Body:         []byte(body),
		Exchange:     "status-events",
		RoutingKey:   "WS",
		DeliveryTag:  9,
	}
}

func TestProcessDelivery_AckOnSuccess(t *testing.T) {
	s := memory.New()
	a := newTestAdapter(t, s)
	rec := &ackRecorder{}

	a.processDelivery(context.Background(), delivery(rec, valid))
	assert.Equal(t, 1, rec.ack)
	assert.Zero(t, rec.nack)

	_, err := s.Get(context.Background(), events.DeriveID("rabbitmq", "status-events/WS/9"))
	require.NoError(t, err)
}

func TestProcessDelivery_MessageIDIsTheRef(t *testing.T) {
	s := memory.New()
	a := newTestAdapter(t, s)

	first := &ackRecorder{}
	d := delivery(first, valid)
	d.MessageId = "m-1"
	a.processDelivery(context.Background(), d)
	assert.Equal(t, 1, first.ack)

	again := &ackRecorder{}
	d = delivery(again, valid)
	d.MessageId = "m-1"
	d.DeliveryTag = 10
	a.processDelivery(context.Background(), d)
	assert.Equal(t, 1, again.ack, "redelivered duplicates are acked")

	stored, err := s.GetByState(context.Background(), events.StateUnprocessed, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, events.DeriveID("rabbitmq", "m-1"), stored[0].ID)
}

func TestProcessDelivery_DropsInvalid(t *testing.T) {
	a := newTestAdapter(t, memory.New())
	for _, body := range []string{
		`{not-json`,
		`{"timestamp":1000,"type":"UNPUBLISH_ALL_VERSIONS","storageCode":"WS","objectId":"2"}`,
	} {
		rec := &ackRecorder{}
		a.processDelivery(context.Background(), delivery(rec, body))
		assert.Equal(t, 1, rec.nack, body)
		assert.False(t, rec.requeue, body)
	}
}

func TestProcessDelivery_RequeuesStoreFailures(t *testing.T) {
	a := newTestAdapter(t, failingStore{memory.New()})
	rec := &ackRecorder{}
	a.processDelivery(context.Background(), delivery(rec, valid))
	assert.Equal(t, 1, rec.nack)
	assert.True(t, rec.requeue)
}

func TestAdapter_CloseWithoutStart(t *testing.T) {
	a := newTestAdapter(t, memory.New())
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())

	_, err := NewAdapter(config.DefaultConfig().RabbitMQ, nil, nil)
	assert.Error(t, err)
}
