// Package storetest holds a behavioural test suite shared by every event
// store backend.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) eventstore.Store

// Event builds a version event at the given millisecond timestamp.
func Event(key string, ms int64) events.Event {
	return events.Event{
		GroupingKey:   key,
		Timestamp:     time.UnixMilli(ms).UTC(),
		Type:          events.TypeNewVersion,
		StorageCode:   "WS",
		AccessGroupID: 1,
		ObjectID:      "2",
		Version:       3,
		ObjectType:    "Narrative",
	}
}

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s eventstore.Store)
	}{
		{"StoreAndGet", testStoreAndGet},
		{"StoreGeneratesID", testStoreGeneratesID},
		{"StoreDuplicate", testStoreDuplicate},
		{"StoreInvalid", testStoreInvalid},
		{"GetMissing", testGetMissing},
		{"GetByStateOrder", testGetByStateOrder},
		{"GetByStateLimit", testGetByStateLimit},
		{"SetProcessingState", testSetProcessingState},
		{"SetProcessingStateMissing", testSetProcessingStateMissing},
		{"ConcurrentTransitions", testConcurrentTransitions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close(context.Background())
			tt.fn(t, s)
		})
	}
}

func testStoreAndGet(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	ev := Event("1/2", 10000)
	ev.Type = events.TypeRenameAllVersions
	ev.NewName = "renamed"
	ev.Public = true

	stored, err := s.Store(ctx, "id-1", ev, events.StateUnprocessed)
	require.NoError(t, err)
	assert.Equal(t, events.EventID("id-1"), stored.ID)
	assert.Equal(t, events.StateUnprocessed, stored.State)
	assert.Nil(t, stored.LastUpdate)

	got, err := s.Get(ctx, "id-1")
	require.NoError(t, err)
	assert.Equal(t, events.EventID("id-1"), got.ID)
	assert.Equal(t, events.StateUnprocessed, got.State)
	assert.Equal(t, ev.GroupingKey, got.Event.GroupingKey)
	assert.True(t, ev.Timestamp.Equal(got.Event.Timestamp), "timestamp %s != %s", ev.Timestamp, got.Event.Timestamp)
	assert.Equal(t, ev.Type, got.Event.Type)
	assert.Equal(t, ev.StorageCode, got.Event.StorageCode)
	assert.Equal(t, ev.AccessGroupID, got.Event.AccessGroupID)
	assert.Equal(t, ev.ObjectID, got.Event.ObjectID)
	assert.Equal(t, ev.Version, got.Event.Version)
	assert.Equal(t, ev.ObjectType, got.Event.ObjectType)
	assert.Equal(t, "renamed", got.Event.NewName)
	assert.True(t, got.Event.Public)
	assert.Nil(t, got.LastUpdate)
}

func testStoreGeneratesID(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	a, err := s.Store(ctx, "", Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)
	b, err := s.Store(ctx, "", Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = s.Get(ctx, a.ID)
	assert.NoError(t, err)
}

func testStoreDuplicate(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Store(ctx, "dup", Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)
	_, err = s.Store(ctx, "dup", Event("k", 2000), events.StateReady)
	assert.ErrorIs(t, err, eventstore.ErrDuplicateEvent)

	got, err := s.Get(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, events.StateUnprocessed, got.State)
}

func testStoreInvalid(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	ev := Event("", 1000)
	_, err := s.Store(ctx, "", ev, events.StateUnprocessed)
	assert.Error(t, err)

	_, err = s.Store(ctx, "", Event("k", 1000), events.ProcessingState("BOGUS"))
	assert.Error(t, err)
}

func testGetMissing(t *testing.T, s eventstore.Store) {
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, eventstore.ErrEventNotFound)
}

func testGetByStateOrder(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	// same timestamp for b and c: insertion order breaks the tie
	input := []struct {
		id string
		ms int64
		st events.ProcessingState
	}{
		{"d", 4000, events.StateUnprocessed},
		{"b", 2000, events.StateUnprocessed},
		{"c", 2000, events.StateUnprocessed},
		{"a", 1000, events.StateUnprocessed},
		{"x", 500, events.StateReady},
	}
	for _, in := range input {
		_, err := s.Store(ctx, events.EventID(in.id), Event("k", in.ms), in.st)
		require.NoError(t, err)
	}

	got, err := s.GetByState(ctx, events.StateUnprocessed, 10)
	require.NoError(t, err)
	assert.Equal(t, []events.EventID{"a", "b", "c", "d"}, ids(got))

	got, err = s.GetByState(ctx, events.StateReady, 10)
	require.NoError(t, err)
	assert.Equal(t, []events.EventID{"x"}, ids(got))

	got, err = s.GetByState(ctx, events.StateIndexed, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testGetByStateLimit(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Store(ctx, events.EventID(fmt.Sprintf("e%d", i)), Event("k", int64(1000*(i+1))), events.StateUnprocessed)
		require.NoError(t, err)
	}

	got, err := s.GetByState(ctx, events.StateUnprocessed, 3)
	require.NoError(t, err)
	assert.Equal(t, []events.EventID{"e0", "e1", "e2"}, ids(got))

	got, err = s.GetByState(ctx, events.StateUnprocessed, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSetProcessingState(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Store(ctx, "e", Event("k", 1000), events.StateUnprocessed)
	require.NoError(t, err)

	before := time.Now().Add(-time.Second)
	ok, err := s.SetProcessingState(ctx, "e", events.StateUnprocessed, events.StateReady, "promoted")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, events.StateReady, got.State)
	require.NotNil(t, got.LastUpdate)
	assert.Equal(t, "promoted", got.LastUpdate.Note)
	assert.True(t, got.LastUpdate.Time.After(before))

	// stale expectation
	ok, err = s.SetProcessingState(ctx, "e", events.StateUnprocessed, events.StateProcessing, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.Get(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, events.StateReady, got.State)

	unproc, err := s.GetByState(ctx, events.StateUnprocessed, 10)
	require.NoError(t, err)
	assert.Empty(t, unproc)
	ready, err := s.GetByState(ctx, events.StateReady, 10)
	require.NoError(t, err)
	assert.Equal(t, []events.EventID{"e"}, ids(ready))

	_, err = s.SetProcessingState(ctx, "e", events.StateReady, events.ProcessingState("BOGUS"), "")
	assert.Error(t, err)
}

func testSetProcessingStateMissing(t *testing.T, s eventstore.Store) {
	ok, err := s.SetProcessingState(context.Background(), "nope", events.StateUnprocessed, events.StateReady, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testConcurrentTransitions(t *testing.T, s eventstore.Store) {
	ctx := context.Background()
	_, err := s.Store(ctx, "race", Event("k", 1000), events.StateReady)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetProcessingState(ctx, "race", events.StateReady, events.StateProcessing, "")
			if err == nil {
				results <- ok
			}
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for ok := range results {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won)
}

func ids(evs []events.StoredEvent) []events.EventID {
	out := make([]events.EventID, len(evs))
	for i, ev := range evs {
		out[i] = ev.ID
	}
	return out
}
