package pubsubtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsCopies(t *testing.T) {
	var pub Publisher
	data := []byte("hello")
	require.NoError(t, pub.Publish(context.Background(), "ready.WS", data))
	data[0] = 'j'

	assert.Equal(t, []Published{{Subject: "ready.WS", Data: []byte("hello")}}, pub.Messages())
}

func TestPublisher_Fail(t *testing.T) {
	pub := NewPublisher()
	pub.Fail(errors.New("down"))
	assert.EqualError(t, pub.Publish(context.Background(), "a", nil), "down")
	assert.Empty(t, pub.Messages())

	pub.Fail(nil)
	assert.NoError(t, pub.Publish(context.Background(), "a", nil))
	assert.Len(t, pub.Messages(), 1)

	assert.False(t, pub.Closed())
	require.NoError(t, pub.Close())
	assert.True(t, pub.Closed())
}

func TestMessage_Counts(t *testing.T) {
	msg := NewMessage("ready.WS", []byte("d"))
	require.NoError(t, msg.Nak())
	require.NoError(t, msg.Nak())
	require.NoError(t, msg.Ack())

	acks, naks := msg.Counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 2, naks)

	md, err := msg.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "ready.WS", md.Subject)
	assert.Equal(t, uint64(1), md.NumDelivered)
}
