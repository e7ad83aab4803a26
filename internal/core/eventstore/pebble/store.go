// Package pebble stores status events in an embedded Pebble database.
//
// Each event is kept under ev/{id}. A secondary index under st/{state}/
// keeps events of one state in event-time order, so GetByState is a bounded
// prefix scan.
package pebble

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/retry"
)

// Compile-time check that Store implements eventstore.Store
var _ eventstore.Store = (*Store)(nil)

type record struct {
	Event      events.Event           `json:"event"`
	State      events.ProcessingState `json:"state"`
	Seq        uint64                 `json:"seq"`
	LastUpdate *events.StateUpdate    `json:"lastUpdate,omitempty"`
}

// Store is a Pebble backed event store. Writes are serialized by a mutex so
// that compare-and-set transitions are atomic.
type Store struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

// Open opens or creates a database in dir with a block cache of cacheSize
// bytes.
func Open(dir string, cacheSize int64) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	if cacheSize <= 0 {
		cacheSize = 8 << 20
	}
	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	return open(dir, &pebble.Options{
		Cache: cache,
		Levels: []pebble.LevelOptions{
			{FilterPolicy: bloom.FilterPolicy(10)},
		},
	})
}

// OpenInMemory opens a database backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(dir string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &Store{db: db}
	if err := s.loadSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadSeq() error {
	val, closer, err := s.db.Get([]byte(keySeq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	if len(val) != 8 {
		return fmt.Errorf("corrupt sequence value: %d bytes", len(val))
	}
	s.seq = binary.BigEndian.Uint64(val)
	return nil
}

func (s *Store) Store(_ context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error) {
	if err := eventstore.CheckStore(ev, state); err != nil {
		return events.StoredEvent{}, err
	}
	id = eventstore.IDOrNew(id)
	ev.Timestamp = ev.Timestamp.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, found, err := s.getRecord(id)
	if err != nil {
		return events.StoredEvent{}, err
	}
	if found {
		return events.StoredEvent{}, eventstore.ErrDuplicateEvent
	}

	seq := s.seq + 1
	rec := record{Event: ev, State: state, Seq: seq}
	val, err := json.Marshal(rec)
	if err != nil {
		return events.StoredEvent{}, retry.Fatal(err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(eventKey(id), val, nil); err != nil {
		return events.StoredEvent{}, retry.Fatal(err)
	}
	if err := batch.Set(stateKey(state, ev.Timestamp, seq, id), nil, nil); err != nil {
		return events.StoredEvent{}, retry.Fatal(err)
	}
	if err := batch.Set([]byte(keySeq), binary.BigEndian.AppendUint64(nil, seq), nil); err != nil {
		return events.StoredEvent{}, retry.Fatal(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return events.StoredEvent{}, retry.Fatal(fmt.Errorf("commit event %s: %w", id, err))
	}
	s.seq = seq
	return events.StoredEvent{Event: ev, ID: id, State: state}, nil
}

func (s *Store) GetByState(_ context.Context, state events.ProcessingState, limit int) ([]events.StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	prefix := stateKeyPrefix(state)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return nil, retry.Fatal(err)
	}
	defer iter.Close()

	var ids []events.EventID
	for iter.First(); iter.Valid() && len(ids) < limit; iter.Next() {
		id, err := idFromStateKey(iter.Key(), len(prefix))
		if err != nil {
			return nil, retry.Fatal(err)
		}
		ids = append(ids, id)
	}
	if err := iter.Error(); err != nil {
		return nil, retry.Fatal(err)
	}

	out := make([]events.StoredEvent, 0, len(ids))
	for _, id := range ids {
		rec, found, err := s.getRecord(id)
		if err != nil {
			return nil, err
		}
		// moved on since the scan
		if !found || rec.State != state {
			continue
		}
		out = append(out, rec.toStored(id))
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id events.EventID) (events.StoredEvent, error) {
	rec, found, err := s.getRecord(id)
	if err != nil {
		return events.StoredEvent{}, err
	}
	if !found {
		return events.StoredEvent{}, eventstore.ErrEventNotFound
	}
	return rec.toStored(id), nil
}

func (s *Store) SetProcessingState(_ context.Context, id events.EventID, expected, next events.ProcessingState, note string) (bool, error) {
	if err := eventstore.CheckTransition(id, expected, next); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.getRecord(id)
	if err != nil {
		return false, err
	}
	if !found || rec.State != expected {
		return false, nil
	}

	oldIndex := stateKey(rec.State, rec.Event.Timestamp, rec.Seq, id)
	rec.State = next
	rec.LastUpdate = &events.StateUpdate{Time: time.Now().UTC(), Note: note}
	val, err := json.Marshal(rec)
	if err != nil {
		return false, retry.Fatal(err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(oldIndex, nil); err != nil {
		return false, retry.Fatal(err)
	}
	if err := batch.Set(stateKey(next, rec.Event.Timestamp, rec.Seq, id), nil, nil); err != nil {
		return false, retry.Fatal(err)
	}
	if err := batch.Set(eventKey(id), val, nil); err != nil {
		return false, retry.Fatal(err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, retry.Fatal(fmt.Errorf("commit transition for %s: %w", id, err))
	}
	return true, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *Store) getRecord(id events.EventID) (record, bool, error) {
	val, closer, err := s.db.Get(eventKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, retry.Fatal(fmt.Errorf("get event %s: %w", id, err))
	}
	defer closer.Close()

	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return record{}, false, retry.Fatal(fmt.Errorf("decode event %s: %w", id, err))
	}
	return rec, true, nil
}

func (r record) toStored(id events.EventID) events.StoredEvent {
	r.Event.Timestamp = r.Event.Timestamp.UTC()
	return events.StoredEvent{
		Event:      r.Event,
		ID:         id,
		State:      r.State,
		LastUpdate: r.LastUpdate,
	}
}

// idFromStateKey extracts the event ID from st/{state}/{ts}{seq}/{id}.
func idFromStateKey(key []byte, prefixLen int) (events.EventID, error) {
	start := prefixLen + 16 + 1
	if len(key) < start {
		return "", fmt.Errorf("malformed state key %q", key)
	}
	id, err := decodePathComponent(string(key[start:]))
	if err != nil {
		return "", err
	}
	return events.EventID(id), nil
}
