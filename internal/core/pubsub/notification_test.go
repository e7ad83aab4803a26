package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/events"
)

func TestReadyNotification_RoundTrip(t *testing.T) {
	ev := events.StoredEvent{
		ID: "ev1",
		Event: events.Event{
			GroupingKey: "1/2",
			Timestamp:   time.UnixMilli(1000),
			Type:        events.TypeNewVersion,
			StorageCode: "WS",
		},
		State: events.StateReady,
	}
	n := NewReadyNotification(ev)
	assert.Equal(t, "ready.WS", n.Subject())

	data, err := n.Encode()
	require.NoError(t, err)
	got, err := DecodeReadyNotification(data)
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestReadyNotification_Subject(t *testing.T) {
	assert.Equal(t, "ready._", ReadyNotification{ID: "x"}.Subject())
	assert.Equal(t, "ready.a_b_", ReadyNotification{ID: "x", StorageCode: "a.b*"}.Subject())
	assert.Equal(t, "ready.>", ReadySubjectFilter())
}

func TestDecodeReadyNotification_Invalid(t *testing.T) {
	_, err := DecodeReadyNotification([]byte("not json"))
	assert.Error(t, err)
	_, err = DecodeReadyNotification([]byte(`{"groupingKey":"k"}`))
	assert.Error(t, err)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "ready.WS", Subject("", "ready.WS"))
	assert.Equal(t, "INDEXER.ready.WS", Subject("INDEXER", "ready.WS"))
	assert.Equal(t, 100, DefaultConsumerOptions().ChannelBufSize)
}
