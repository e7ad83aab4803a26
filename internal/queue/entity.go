// Package queue implements the in-memory ordering engine that decides which
// stored events may be handed to indexing workers.
//
// An EntityQueue orders the events of one grouping key. Object-level events
// (those touching all versions of an object) never run alongside version-level
// events of the same key, and events run in timestamp order across the two
// families. An EventQueue is the registry of entity queues.
//
// Neither type is safe for concurrent use. They are owned by the coordinator
// loop and must only be touched from that goroutine.
package queue

import (
	"fmt"
	"time"

	"github.com/google/btree"
	"github.com/syntrixbase/searchindexer/internal/events"
)

const btreeDegree = 8

// EntityQueue holds the pending, ready and processing events for one
// grouping key, plus an optional block time.
type EntityQueue struct {
	pendingVersions *btree.BTreeG[*entry]
	pendingObjects  *btree.BTreeG[*entry]
	ready           map[events.EventID]*entry
	processing      map[events.EventID]*entry

	blockTime time.Time
	blocked   bool

	seq uint64
}

// NewEntityQueue creates an empty queue.
func NewEntityQueue() *EntityQueue {
	return &EntityQueue{
		pendingVersions: btree.NewG(btreeDegree, lessEntry),
		pendingObjects:  btree.NewG(btreeDegree, lessEntry),
		ready:           make(map[events.EventID]*entry),
		processing:      make(map[events.EventID]*entry),
	}
}

// NewEntityQueueWithObjectEvent creates a queue seeded with an object-level
// event that is already READY or PROC in the event store.
func NewEntityQueueWithObjectEvent(ev events.StoredEvent) (*EntityQueue, error) {
	if ev.State != events.StateReady && ev.State != events.StateProcessing {
		return nil, fmt.Errorf("%w: illegal initial event state: %s", ErrInvalidArgument, ev.State)
	}
	if ev.Event.Type.IsVersionLevel() || !ev.Event.Type.IsAdmissible() {
		return nil, fmt.Errorf("%w: illegal initial event type: %s", ErrInvalidArgument, ev.Event.Type)
	}
	q := NewEntityQueue()
	e := q.newEntry(ev)
	if ev.State == events.StateReady {
		q.ready[ev.ID] = e
	} else {
		q.processing[ev.ID] = e
	}
	return q, nil
}

// NewEntityQueueWithVersionEvents creates a queue seeded with version-level
// events that are already READY or PROC in the event store.
func NewEntityQueueWithVersionEvents(ready, processing []events.StoredEvent) (*EntityQueue, error) {
	if err := checkInitialVersionEvents(ready, events.StateReady); err != nil {
		return nil, err
	}
	if err := checkInitialVersionEvents(processing, events.StateProcessing); err != nil {
		return nil, err
	}
	q := NewEntityQueue()
	for _, ev := range ready {
		q.ready[ev.ID] = q.newEntry(ev)
	}
	for _, ev := range processing {
		q.processing[ev.ID] = q.newEntry(ev)
	}
	return q, nil
}

func checkInitialVersionEvents(evs []events.StoredEvent, want events.ProcessingState) error {
	for _, ev := range evs {
		if ev.State != want {
			return fmt.Errorf("%w: illegal initial event state: %s", ErrInvalidArgument, ev.State)
		}
		if !ev.Event.Type.IsVersionLevel() {
			return fmt.Errorf("%w: illegal initial event type: %s", ErrInvalidArgument, ev.Event.Type)
		}
	}
	return nil
}

func (q *EntityQueue) newEntry(ev events.StoredEvent) *entry {
	q.seq++
	return &entry{ev: ev, seq: q.seq}
}

// Load adds an UNPROC event to the pending set.
func (q *EntityQueue) Load(ev events.StoredEvent) error {
	if ev.State != events.StateUnprocessed {
		return fmt.Errorf("%w: illegal state for loading event: %s", ErrInvalidArgument, ev.State)
	}
	if !ev.Event.Type.IsAdmissible() {
		return fmt.Errorf("%w: illegal type for loading event: %s", ErrInvalidArgument, ev.Event.Type)
	}
	e := q.newEntry(ev)
	if ev.Event.Type.IsVersionLevel() {
		q.pendingVersions.ReplaceOrInsert(e)
	} else {
		q.pendingObjects.ReplaceOrInsert(e)
	}
	return nil
}

// MoveToReady promotes every pending event that the ordering rules allow and
// returns exactly the promoted events.
func (q *EntityQueue) MoveToReady() EventSet {
	return setFromEntries(q.promote())
}

// promote applies the ordering rules:
//   - nothing moves while an object-level event is ready or processing;
//   - version events older than the earliest pending object event, and older
//     than the block time, move to ready;
//   - the earliest pending object event moves only when no version events are
//     ready or processing and it is older than the block time.
func (q *EntityQueue) promote() []*entry {
	if q.hasActiveObjectEvent() {
		return nil
	}
	next, hasNext := q.pendingObjects.Min()

	var moved []*entry
	q.pendingVersions.Ascend(func(e *entry) bool {
		if hasNext && !e.ts().Before(next.ts()) {
			return false
		}
		if !q.beforeBlock(e.ts()) {
			return false
		}
		moved = append(moved, e)
		return true
	})
	for _, e := range moved {
		q.pendingVersions.Delete(e)
		q.ready[e.ev.ID] = e
	}

	if hasNext && len(q.ready) == 0 && len(q.processing) == 0 && q.beforeBlock(next.ts()) {
		q.pendingObjects.Delete(next)
		q.ready[next.ev.ID] = next
		moved = append(moved, next)
	}
	return moved
}

func (q *EntityQueue) beforeBlock(t time.Time) bool {
	return !q.blocked || t.Before(q.blockTime)
}

func (q *EntityQueue) hasActiveObjectEvent() bool {
	for _, e := range q.ready {
		if !e.ev.Event.Type.IsVersionLevel() {
			return true
		}
	}
	for _, e := range q.processing {
		if !e.ev.Event.Type.IsVersionLevel() {
			return true
		}
	}
	return false
}

// MoveReadyToProcessing moves all ready events to processing and returns them.
func (q *EntityQueue) MoveReadyToProcessing() EventSet {
	if len(q.ready) == 0 {
		return EventSet{}
	}
	moved := setFromMap(q.ready)
	for id, e := range q.ready {
		q.processing[id] = e
	}
	q.ready = make(map[events.EventID]*entry)
	return moved
}

// SetProcessingComplete removes a processing event, matched by ID, and then
// promotes whatever the removal unblocked. Promoted events are visible through
// ReadyForProcessing but are not returned by a later MoveToReady.
func (q *EntityQueue) SetProcessingComplete(ev events.StoredEvent) error {
	if _, ok := q.processing[ev.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchEvent, ev)
	}
	delete(q.processing, ev.ID)
	q.promote()
	return nil
}

// DrainAndBlockAt stops events with a timestamp at or after t from becoming
// ready. Events already ready or processing are unaffected.
func (q *EntityQueue) DrainAndBlockAt(t time.Time) error {
	if t.IsZero() {
		return fmt.Errorf("%w: block time is required", ErrInvalidArgument)
	}
	q.blockTime = t
	q.blocked = true
	return nil
}

// RemoveBlock clears the block time, if any.
func (q *EntityQueue) RemoveBlock() {
	q.blockTime = time.Time{}
	q.blocked = false
}

// BlockTime returns the block time and whether one is set.
func (q *EntityQueue) BlockTime() (time.Time, bool) {
	return q.blockTime, q.blocked
}

// ReadyForProcessing returns a snapshot of the ready events.
func (q *EntityQueue) ReadyForProcessing() EventSet { return setFromMap(q.ready) }

// Processing returns a snapshot of the processing events.
func (q *EntityQueue) Processing() EventSet { return setFromMap(q.processing) }

// Size returns the number of events held in any state.
func (q *EntityQueue) Size() int {
	return q.pendingVersions.Len() + q.pendingObjects.Len() + len(q.ready) + len(q.processing)
}

// Pending returns the number of events not yet promoted to ready.
func (q *EntityQueue) Pending() int {
	return q.pendingVersions.Len() + q.pendingObjects.Len()
}

// Contains reports whether an event with the given ID is held in any state.
func (q *EntityQueue) Contains(id events.EventID) bool {
	if _, ok := q.ready[id]; ok {
		return true
	}
	if _, ok := q.processing[id]; ok {
		return true
	}
	found := false
	match := func(e *entry) bool {
		found = e.ev.ID == id
		return !found
	}
	q.pendingVersions.Ascend(match)
	if !found {
		q.pendingObjects.Ascend(match)
	}
	return found
}

func (q *EntityQueue) IsEmpty() bool             { return q.Size() == 0 }
func (q *EntityQueue) HasReady() bool            { return len(q.ready) > 0 }
func (q *EntityQueue) IsProcessing() bool        { return len(q.processing) > 0 }
func (q *EntityQueue) IsProcessingOrReady() bool { return q.HasReady() || q.IsProcessing() }
