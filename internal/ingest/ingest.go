// Package ingest turns status messages from external sources into UNPROC
// events in the event store. Source adapters live in the kafka and rabbitmq
// subpackages.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
)

var (
	// ErrInvalidMessage is returned for messages that can never be stored.
	// Adapters drop them instead of redelivering.
	ErrInvalidMessage = errors.New("invalid status message")

	// ErrInadmissible is returned for event types the coordinator cannot queue.
	ErrInadmissible = errors.New("event type not admissible")
)

var validate = validator.New()

// Message is the JSON status message accepted from every source.
type Message struct {
	ID            string          `json:"id,omitempty"`
	GroupingKey   string          `json:"groupingKey,omitempty"`
	Timestamp     json.RawMessage `json:"timestamp" validate:"required"`
	Type          string          `json:"type" validate:"required"`
	StorageCode   string          `json:"storageCode" validate:"required"`
	AccessGroupID int64           `json:"accessGroupId" validate:"gte=0"`
	ObjectID      string          `json:"objectId,omitempty"`
	Version       int             `json:"version,omitempty" validate:"gte=0"`
	ObjectType    string          `json:"objectType,omitempty"`
	NewName       string          `json:"newName,omitempty"`
	Public        bool            `json:"public,omitempty"`
}

// Ingester validates messages and stores them as UNPROC events.
type Ingester struct {
	store  eventstore.Store
	logger *slog.Logger
}

// New creates an ingester writing to store.
func New(store eventstore.Store, logger *slog.Logger) (*Ingester, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, logger: logger.With("component", "ingest")}, nil
}

// Ingest parses body and stores it. The event ID is the message's own id if
// set, otherwise derived from source and ref, so a redelivered message
// returns eventstore.ErrDuplicateEvent instead of creating a second event.
func (i *Ingester) Ingest(ctx context.Context, source, ref string, body []byte) (events.StoredEvent, error) {
	msg, err := Parse(body)
	if err != nil {
		MessagesTotal.WithLabelValues(source, "invalid").Inc()
		return events.StoredEvent{}, err
	}
	ev, err := msg.Event()
	if err != nil {
		MessagesTotal.WithLabelValues(source, "invalid").Inc()
		return events.StoredEvent{}, err
	}
	id := events.EventID(msg.ID)
	if id == "" {
		id = events.DeriveID(source, ref)
	}
	return i.Store(ctx, source, id, ev)
}

// Store stores an already built event as UNPROC.
func (i *Ingester) Store(ctx context.Context, source string, id events.EventID, ev events.Event) (events.StoredEvent, error) {
	if err := Check(ev); err != nil {
		MessagesTotal.WithLabelValues(source, "invalid").Inc()
		return events.StoredEvent{}, err
	}
	stored, err := i.store.Store(ctx, id, ev, events.StateUnprocessed)
	if errors.Is(err, eventstore.ErrDuplicateEvent) {
		MessagesTotal.WithLabelValues(source, "duplicate").Inc()
		i.logger.Debug("duplicate status message", "source", source, "id", id)
		return events.StoredEvent{}, err
	}
	if err != nil {
		MessagesTotal.WithLabelValues(source, "error").Inc()
		return events.StoredEvent{}, fmt.Errorf("failed to store event %s: %w", id, err)
	}
	MessagesTotal.WithLabelValues(source, "stored").Inc()
	i.logger.Info("stored status event", "source", source, "id", stored.ID, "key", ev.GroupingKey, "type", ev.Type)
	return stored, nil
}

// Parse decodes and validates a JSON status message.
func Parse(body []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := validate.Struct(msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return msg, nil
}

// Event converts the message into an event. An empty grouping key is derived
// from the object reference.
func (m Message) Event() (events.Event, error) {
	typ, err := events.ParseEventType(m.Type)
	if err != nil {
		return events.Event{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	ts, err := parseTimestamp(m.Timestamp)
	if err != nil {
		return events.Event{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	ev := events.Event{
		GroupingKey:   m.GroupingKey,
		Timestamp:     ts,
		Type:          typ,
		StorageCode:   m.StorageCode,
		AccessGroupID: m.AccessGroupID,
		ObjectID:      m.ObjectID,
		Version:       m.Version,
		ObjectType:    m.ObjectType,
		NewName:       m.NewName,
		Public:        m.Public,
	}
	if ev.GroupingKey == "" {
		ev.GroupingKey = GroupingKey(ev)
	}
	return ev, nil
}

// Check rejects events the coordinator could never queue.
func Check(ev events.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !ev.Type.IsAdmissible() {
		return fmt.Errorf("%w: %s", ErrInadmissible, ev.Type)
	}
	if ev.ObjectID == "" {
		return fmt.Errorf("%w: %s event without an object id", ErrInvalidMessage, ev.Type)
	}
	if ev.Type.IsVersionLevel() && ev.Version < 1 {
		return fmt.Errorf("%w: %s event without a version", ErrInvalidMessage, ev.Type)
	}
	if ev.Type == events.TypeRenameAllVersions && ev.NewName == "" {
		return fmt.Errorf("%w: rename event without a new name", ErrInvalidMessage)
	}
	return nil
}

// GroupingKey returns the default key of ev: every event about one object
// shares a key.
func GroupingKey(ev events.Event) string {
	if ev.ObjectID == "" {
		return fmt.Sprintf("%s:%d", ev.StorageCode, ev.AccessGroupID)
	}
	return fmt.Sprintf("%s:%d/%s", ev.StorageCode, ev.AccessGroupID, ev.ObjectID)
}

// parseTimestamp accepts epoch milliseconds, as a number or a string, or an
// RFC 3339 time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, errors.New("timestamp is required")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}
