package pebble

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/storetest"
	"github.com/syntrixbase/searchindexer/internal/events"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) eventstore.Store {
		s, err := OpenInMemory()
		require.NoError(t, err)
		return s
	})
}

func TestStore_ReopenRestoresSequence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, 0)
	require.NoError(t, err)
	_, err = s.Store(ctx, "a", storetest.Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	s, err = Open(dir, 0)
	require.NoError(t, err)
	defer s.Close(ctx)
	assert.Equal(t, uint64(1), s.seq)

	// same timestamp after reopen still sorts after the earlier insert
	_, err = s.Store(ctx, "b", storetest.Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)
	got, err := s.GetByState(ctx, events.StateUnprocessed, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, events.EventID("a"), got[0].ID)
	assert.Equal(t, events.EventID("b"), got[1].ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", 0)
	assert.Error(t, err)
}

func TestStateKeyOrdering(t *testing.T) {
	before := stateKey(events.StateReady, time.Unix(-10, 0), 9, "z")
	after := stateKey(events.StateReady, time.Unix(10, 0), 1, "a")
	assert.Less(t, string(before), string(after))

	first := stateKey(events.StateReady, time.Unix(10, 0), 1, "z")
	second := stateKey(events.StateReady, time.Unix(10, 0), 2, "a")
	assert.Less(t, string(first), string(second))

	prefix := stateKeyPrefix(events.StateReady)
	id, err := idFromStateKey(stateKey(events.StateReady, time.Unix(10, 0), 1, "a/b c"), len(prefix))
	require.NoError(t, err)
	assert.Equal(t, events.EventID("a/b c"), id)

	_, err = idFromStateKey(prefix, len(prefix))
	assert.Error(t, err)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("st/READY0"), prefixEnd([]byte("st/READY/")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
