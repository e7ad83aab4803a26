package pubsub

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// DefaultStreamName is the stream ready notifications are published on.
const DefaultStreamName = "INDEXER"

const readySubjectRoot = "ready"

// ReadyNotification announces that an event moved to READY.
type ReadyNotification struct {
	ID          events.EventID   `json:"id"`
	GroupingKey string           `json:"groupingKey"`
	Type        events.EventType `json:"type"`
	StorageCode string           `json:"storageCode,omitempty"`
}

// NewReadyNotification builds the notification for a stored event.
func NewReadyNotification(ev events.StoredEvent) ReadyNotification {
	return ReadyNotification{
		ID:          ev.ID,
		GroupingKey: ev.Event.GroupingKey,
		Type:        ev.Event.Type,
		StorageCode: ev.Event.StorageCode,
	}
}

// Subject returns ready.{storageCode}, or ready._ when there is no storage
// code, so consumers can filter by storage system.
func (n ReadyNotification) Subject() string {
	code := sanitizeToken(n.StorageCode)
	if code == "" {
		code = "_"
	}
	return readySubjectRoot + "." + code
}

// ReadySubjectFilter matches every ready notification.
func ReadySubjectFilter() string {
	return readySubjectRoot + ".>"
}

// Encode serializes the notification.
func (n ReadyNotification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// DecodeReadyNotification parses a notification payload.
func DecodeReadyNotification(data []byte) (ReadyNotification, error) {
	var n ReadyNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return ReadyNotification{}, fmt.Errorf("decode ready notification: %w", err)
	}
	if n.ID == "" {
		return ReadyNotification{}, fmt.Errorf("ready notification without event id")
	}
	return n, nil
}

// sanitizeToken strips characters that have meaning in subject patterns.
func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
