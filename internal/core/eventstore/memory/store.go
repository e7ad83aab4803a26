// Package memory provides an in-process event store for standalone mode and
// tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
)

// Compile-time check that Store implements eventstore.Store
var _ eventstore.Store = (*Store)(nil)

var errClosed = errors.New("memory event store is closed")

type record struct {
	ev  events.StoredEvent
	seq uint64
}

// Store keeps events in a map guarded by a mutex.
type Store struct {
	mu     sync.RWMutex
	byID   map[events.EventID]*record
	seq    uint64
	closed bool

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[events.EventID]*record),
		now:  time.Now,
	}
}

func (s *Store) Store(_ context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error) {
	if err := eventstore.CheckStore(ev, state); err != nil {
		return events.StoredEvent{}, err
	}
	id = eventstore.IDOrNew(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return events.StoredEvent{}, errClosed
	}
	if _, ok := s.byID[id]; ok {
		return events.StoredEvent{}, eventstore.ErrDuplicateEvent
	}
	s.seq++
	stored := events.StoredEvent{Event: ev, ID: id, State: state}
	s.byID[id] = &record{ev: stored, seq: s.seq}
	return stored, nil
}

func (s *Store) GetByState(_ context.Context, state events.ProcessingState, limit int) ([]events.StoredEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}

	var matches []*record
	for _, r := range s.byID {
		if r.ev.State == state {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.ev.Event.Timestamp.Equal(b.ev.Event.Timestamp) {
			return a.ev.Event.Timestamp.Before(b.ev.Event.Timestamp)
		}
		return a.seq < b.seq
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]events.StoredEvent, len(matches))
	for i, r := range matches {
		out[i] = copyEvent(r.ev)
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id events.EventID) (events.StoredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return events.StoredEvent{}, errClosed
	}
	r, ok := s.byID[id]
	if !ok {
		return events.StoredEvent{}, eventstore.ErrEventNotFound
	}
	return copyEvent(r.ev), nil
}

func (s *Store) SetProcessingState(_ context.Context, id events.EventID, expected, next events.ProcessingState, note string) (bool, error) {
	if err := eventstore.CheckTransition(id, expected, next); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, errClosed
	}
	r, ok := s.byID[id]
	if !ok || r.ev.State != expected {
		return false, nil
	}
	r.ev.State = next
	r.ev.LastUpdate = &events.StateUpdate{Time: s.now(), Note: note}
	return true, nil
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func copyEvent(ev events.StoredEvent) events.StoredEvent {
	if ev.LastUpdate != nil {
		u := *ev.LastUpdate
		ev.LastUpdate = &u
	}
	return ev
}
