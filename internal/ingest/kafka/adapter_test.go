package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore/memory"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/ingest"
	"github.com/syntrixbase/searchindexer/internal/ingest/config"
	"github.com/twmb/franz-go/pkg/kgo"
)

type commitRecorder struct {
	mu      sync.Mutex
	marked  []int64
	commits int
	paused  int
	resumed int
}

func newTestAdapter(t *testing.T, s eventstore.Store) (*Adapter, *commitRecorder) {
	t.Helper()
	in, err := ingest.New(s, nil)
	require.NoError(t, err)
	cfg := config.DefaultConfig().Kafka
	cfg.QueueCapacity = 4
	a := newAdapter(cfg, in, nil)
	rec := &commitRecorder{}
	a.markCommit = func(r *kgo.Record) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.marked = append(rec.marked, r.Offset)
	}
	a.commitMarked = func(context.Context) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.commits++
		return nil
	}
	a.pauseFetch = func(...string) { rec.paused++ }
	a.resumeFetch = func(...string) { rec.resumed++ }
	return a, rec
}

func record(offset int64, value string) *kgo.Record {
	return &kgo.Record{Topic: "status-events", Partition: 0, Offset: offset, Value: []byte(value)}
}

// process pushes recs through the worker and ack stages.
func process(a *Adapter, recs ...*kgo.Record) {
	for _, r := range recs {
		a.records <- r
	}
	close(a.records)
	go func() {
		a.runWorker(context.Background())
		close(a.acks)
	}()
	a.handleAcks(context.Background())
}

const valid = `{"timestamp":1000,"type":"NEW_VERSION","storageCode":"WS","accessGroupId":1,"objectId":"2","version":1}`

func TestAdapter_StoresAndCommits(t *testing.T) {
	s := memory.New()
	a, rec := newTestAdapter(t, s)

	process(a, record(7, valid))

	assert.Equal(t, []int64{7}, rec.marked)
	assert.Equal(t, 1, rec.commits)

	ev, err := s.Get(context.Background(), events.DeriveID("kafka", "status-events/0/7"))
	require.NoError(t, err)
	assert.Equal(t, events.StateUnprocessed, ev.State)
}

func TestAdapter_CommitsDuplicatesAndInvalidMessages(t *testing.T) {
	s := memory.New()
	a, rec := newTestAdapter(t, s)
	_, err := a.ingester.Ingest(context.Background(), "kafka", "status-events/0/1", []byte(valid))
	require.NoError(t, err)

	unpublish := `{"timestamp":1000,"type":"UNPUBLISH_ALL_VERSIONS","storageCode":"WS","accessGroupId":1,"objectId":"2"}`
	process(a, record(1, valid), record(2, `{not json`), record(3, unpublish))

	assert.ElementsMatch(t, []int64{1, 2, 3}, rec.marked)
	left, err := s.GetByState(context.Background(), events.StateUnprocessed, 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

// baseStore names the embedded store so its Store method is promoted.
type baseStore = eventstore.Store

type failingStore struct {
	baseStore
}

func (failingStore) Store(context.Context, events.EventID, events.Event, events.ProcessingState) (events.StoredEvent, error) {
	return events.StoredEvent{}, errors.New("database unavailable")
}

func TestAdapter_StoreFailureIsNotCommitted(t *testing.T) {
	a, rec := newTestAdapter(t, failingStore{memory.New()})

	process(a, record(9, valid))

	assert.Empty(t, rec.marked)
	assert.Zero(t, rec.commits)
}

func TestAdapter_Backpressure(t *testing.T) {
	a, rec := newTestAdapter(t, memory.New())
	for i := 0; i < cap(a.records); i++ {
		a.records <- record(int64(i), valid)
	}

	a.maybePause()
	a.maybePause()
	assert.Equal(t, 1, rec.paused)

	a.maybeResume()
	assert.Zero(t, rec.resumed, "still above half capacity")

	for i := 0; i < cap(a.records); i++ {
		<-a.records
	}
	a.maybeResume()
	assert.Equal(t, 1, rec.resumed)
}

func TestNewAdapter_RequiresIngester(t *testing.T) {
	_, err := NewAdapter(config.DefaultConfig().Kafka, nil, nil)
	assert.Error(t, err)
}
