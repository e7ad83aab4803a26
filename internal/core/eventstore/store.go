// Package eventstore defines the durable status event store the coordinator
// and the indexing workers share.
package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/searchindexer/internal/events"
)

var (
	// ErrEventNotFound is returned by Get when no event has the given ID.
	ErrEventNotFound = errors.New("event not found")

	// ErrDuplicateEvent is returned by Store when the ID is already taken.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrUnknownBackend is returned by NewStore for an unsupported backend.
	ErrUnknownBackend = errors.New("unknown event store backend")
)

// Store persists status events and their processing state.
//
// Implementations wrap transient backend failures with retry.Retriable and
// other backend failures with retry.Fatal. ErrEventNotFound and
// ErrDuplicateEvent are returned unwrapped.
type Store interface {
	// Store persists ev in the given state. An empty id is replaced with a
	// generated one.
	Store(ctx context.Context, id events.EventID, ev events.Event, state events.ProcessingState) (events.StoredEvent, error)

	// GetByState returns up to limit events in the given state, oldest
	// first. Ties on timestamp are returned in insertion order.
	GetByState(ctx context.Context, state events.ProcessingState, limit int) ([]events.StoredEvent, error)

	// Get returns the current record of a single event.
	Get(ctx context.Context, id events.EventID) (events.StoredEvent, error)

	// SetProcessingState atomically moves an event from expected to next and
	// records note. It returns false if the event does not exist or is not
	// in the expected state.
	SetProcessingState(ctx context.Context, id events.EventID, expected, next events.ProcessingState, note string) (bool, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}

// CheckStore validates the arguments of Store.
func CheckStore(ev events.Event, state events.ProcessingState) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if !state.IsValid() {
		return fmt.Errorf("invalid processing state: %q", state)
	}
	return nil
}

// CheckTransition validates the arguments of SetProcessingState.
func CheckTransition(id events.EventID, expected, next events.ProcessingState) error {
	if id == "" {
		return errors.New("event id is required")
	}
	if !expected.IsValid() {
		return fmt.Errorf("invalid expected state: %q", expected)
	}
	if !next.IsValid() {
		return fmt.Errorf("invalid new state: %q", next)
	}
	return nil
}

// IDOrNew returns id, or a generated ID when id is empty.
func IDOrNew(id events.EventID) events.EventID {
	if id == "" {
		return events.NewID()
	}
	return id
}
