package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// EventQueue maps grouping keys to entity queues. Entity queues are created
// on first load and dropped once empty.
type EventQueue struct {
	queues map[string]*EntityQueue

	blockTime time.Time
	blocked   bool
}

// NewEventQueue creates an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{queues: make(map[string]*EntityQueue)}
}

// NewEventQueueFrom rebuilds a queue from events that are READY or PROC in
// the event store. A key may hold either one object-level event or any number
// of version-level events; anything else means the store is inconsistent.
func NewEventQueueFrom(initial []events.StoredEvent) (*EventQueue, error) {
	byKey := make(map[string][]events.StoredEvent)
	var keys []string
	for _, ev := range initial {
		k := ev.Event.GroupingKey
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], ev)
	}
	sort.Strings(keys)

	q := NewEventQueue()
	for _, k := range keys {
		eq, err := newSeededEntityQueue(k, byKey[k])
		if err != nil {
			return nil, err
		}
		q.queues[k] = eq
	}
	return q, nil
}

func newSeededEntityQueue(key string, evs []events.StoredEvent) (*EntityQueue, error) {
	var ready, processing []events.StoredEvent
	var object *events.StoredEvent
	for i := range evs {
		ev := evs[i]
		if !ev.Event.Type.IsVersionLevel() {
			if object != nil || len(evs) > 1 {
				return nil, fmt.Errorf("%w: key %q has %d active events including object-level event %s",
					ErrInvalidArgument, key, len(evs), ev.ID)
			}
			object = &ev
			continue
		}
		switch ev.State {
		case events.StateReady:
			ready = append(ready, ev)
		case events.StateProcessing:
			processing = append(processing, ev)
		default:
			return nil, fmt.Errorf("%w: illegal initial event state: %s", ErrInvalidArgument, ev.State)
		}
	}
	if object != nil {
		return NewEntityQueueWithObjectEvent(*object)
	}
	return NewEntityQueueWithVersionEvents(ready, processing)
}

// Load adds an UNPROC event to the entity queue for its grouping key.
func (q *EventQueue) Load(ev events.StoredEvent) error {
	key := ev.Event.GroupingKey
	eq, ok := q.queues[key]
	if !ok {
		eq = NewEntityQueue()
		if q.blocked {
			if err := eq.DrainAndBlockAt(q.blockTime); err != nil {
				return err
			}
		}
	}
	if err := eq.Load(ev); err != nil {
		return err
	}
	q.queues[key] = eq
	return nil
}

// MoveToReady promotes eligible events in every entity queue.
func (q *EventQueue) MoveToReady() EventSet {
	return q.collect((*EntityQueue).MoveToReady)
}

// MoveReadyToProcessing moves every ready event to processing.
func (q *EventQueue) MoveReadyToProcessing() EventSet {
	return q.collect((*EntityQueue).MoveReadyToProcessing)
}

// SetProcessingComplete completes a processing event, matched by ID within
// its grouping key.
func (q *EventQueue) SetProcessingComplete(ev events.StoredEvent) error {
	key := ev.Event.GroupingKey
	eq, ok := q.queues[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchEvent, ev)
	}
	if err := eq.SetProcessingComplete(ev); err != nil {
		return err
	}
	if eq.IsEmpty() {
		delete(q.queues, key)
	}
	return nil
}

// DrainAndBlockAt blocks every current and future entity queue at t.
func (q *EventQueue) DrainAndBlockAt(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: block time is required", ErrInvalidArgument)
	}
	for _, eq := range q.queues {
		if err := eq.DrainAndBlockAt(t); err != nil {
			return err
		}
	}
	q.blockTime = t
	q.blocked = true
	return nil
}

// RemoveBlock clears the block on every entity queue.
func (q *EventQueue) RemoveBlock() {
	for _, eq := range q.queues {
		eq.RemoveBlock()
	}
	q.blockTime = time.Time{}
	q.blocked = false
}

// BlockTime returns the block time and whether one is set.
func (q *EventQueue) BlockTime() (time.Time, bool) {
	return q.blockTime, q.blocked
}

// ReadyForProcessing returns a snapshot of ready events across all keys.
func (q *EventQueue) ReadyForProcessing() EventSet {
	return q.collect((*EntityQueue).ReadyForProcessing)
}

// Processing returns a snapshot of processing events across all keys.
func (q *EventQueue) Processing() EventSet {
	return q.collect((*EntityQueue).Processing)
}

// Size returns the total number of events held.
func (q *EventQueue) Size() int {
	n := 0
	for _, eq := range q.queues {
		n += eq.Size()
	}
	return n
}

// Pending returns the number of events, across all keys, that were loaded
// but not yet promoted to ready. These are still UNPROC in the event store.
func (q *EventQueue) Pending() int {
	n := 0
	for _, eq := range q.queues {
		n += eq.Pending()
	}
	return n
}

// Contains reports whether ev, matched by ID within its grouping key, is held.
func (q *EventQueue) Contains(ev events.StoredEvent) bool {
	eq, ok := q.queues[ev.Event.GroupingKey]
	return ok && eq.Contains(ev.ID)
}

// IsEmpty reports whether no events are held.
func (q *EventQueue) IsEmpty() bool { return len(q.queues) == 0 }

// Keys returns the number of grouping keys with a live entity queue.
func (q *EventQueue) Keys() int { return len(q.queues) }

func (q *EventQueue) collect(fn func(*EntityQueue) EventSet) EventSet {
	sets := make([]EventSet, 0, len(q.queues))
	for _, eq := range q.queues {
		if s := fn(eq); !s.IsEmpty() {
			sets = append(sets, s)
		}
	}
	return mergeSets(sets)
}
