package queue

import (
	"errors"
	"sort"
	"time"

	"github.com/syntrixbase/searchindexer/internal/events"
)

var (
	// ErrInvalidArgument is returned when an event cannot enter a queue in
	// its current state or with its type.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoSuchEvent is returned when completing an event the queue is not
	// processing.
	ErrNoSuchEvent = errors.New("no such event")
)

// EventSet is an immutable snapshot of stored events, ordered by timestamp
// and then by ID.
type EventSet struct {
	events []events.StoredEvent
}

func newEventSet(evs []events.StoredEvent) EventSet {
	sort.Slice(evs, func(i, j int) bool {
		a, b := evs[i], evs[j]
		if !a.Event.Timestamp.Equal(b.Event.Timestamp) {
			return a.Event.Timestamp.Before(b.Event.Timestamp)
		}
		return a.ID < b.ID
	})
	return EventSet{events: evs}
}

func setFromEntries(entries []*entry) EventSet {
	if len(entries) == 0 {
		return EventSet{}
	}
	evs := make([]events.StoredEvent, 0, len(entries))
	for _, e := range entries {
		evs = append(evs, e.ev)
	}
	return newEventSet(evs)
}

func setFromMap(m map[events.EventID]*entry) EventSet {
	if len(m) == 0 {
		return EventSet{}
	}
	evs := make([]events.StoredEvent, 0, len(m))
	for _, e := range m {
		evs = append(evs, e.ev)
	}
	return newEventSet(evs)
}

func mergeSets(sets []EventSet) EventSet {
	n := 0
	for _, s := range sets {
		n += len(s.events)
	}
	if n == 0 {
		return EventSet{}
	}
	evs := make([]events.StoredEvent, 0, n)
	for _, s := range sets {
		evs = append(evs, s.events...)
	}
	return newEventSet(evs)
}

// Len returns the number of events in the set.
func (s EventSet) Len() int { return len(s.events) }

// IsEmpty reports whether the set holds no events.
func (s EventSet) IsEmpty() bool { return len(s.events) == 0 }

// Events returns a copy of the events in the set.
func (s EventSet) Events() []events.StoredEvent {
	out := make([]events.StoredEvent, len(s.events))
	copy(out, s.events)
	return out
}

// IDs returns the event IDs in set order.
func (s EventSet) IDs() []events.EventID {
	out := make([]events.EventID, len(s.events))
	for i, e := range s.events {
		out[i] = e.ID
	}
	return out
}

// Contains reports whether an event with the given ID is in the set.
func (s EventSet) Contains(id events.EventID) bool {
	for _, e := range s.events {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Each calls fn for every event in order until fn returns false.
func (s EventSet) Each(fn func(events.StoredEvent) bool) {
	for _, e := range s.events {
		if !fn(e) {
			return
		}
	}
}

// entry is a queued event plus its admission sequence, which breaks
// timestamp ties deterministically.
type entry struct {
	ev  events.StoredEvent
	seq uint64
}

func (e *entry) ts() time.Time { return e.ev.Event.Timestamp }

func lessEntry(a, b *entry) bool {
	if !a.ts().Equal(b.ts()) {
		return a.ts().Before(b.ts())
	}
	return a.seq < b.seq
}
