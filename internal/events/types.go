// Package events defines the status event schema shared by the coordinator,
// the event stores and the indexing workers.
package events

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType identifies what changed in the object store.
type EventType string

const (
	// Version-level
	TypeNewVersion EventType = "NEW_VERSION"

	// Object-level
	TypeDeleteAllVersions    EventType = "DELETE_ALL_VERSIONS"
	TypeNewAllVersions       EventType = "NEW_ALL_VERSIONS"
	TypePublishAllVersions   EventType = "PUBLISH_ALL_VERSIONS"
	TypeRenameAllVersions    EventType = "RENAME_ALL_VERSIONS"
	TypeUndeleteAllVersions  EventType = "UNDELETE_ALL_VERSIONS"
	TypeUnpublishAllVersions EventType = "UNPUBLISH_ALL_VERSIONS"

	// Access-group scoped
	TypeCopyAccessGroup      EventType = "COPY_ACCESS_GROUP"
	TypeDeleteAccessGroup    EventType = "DELETE_ACCESS_GROUP"
	TypePublishAccessGroup   EventType = "PUBLISH_ACCESS_GROUP"
	TypeUnpublishAccessGroup EventType = "UNPUBLISH_ACCESS_GROUP"
)

// AllTypes lists every known event type.
var AllTypes = []EventType{
	TypeNewVersion,
	TypeDeleteAllVersions,
	TypeNewAllVersions,
	TypePublishAllVersions,
	TypeRenameAllVersions,
	TypeUndeleteAllVersions,
	TypeUnpublishAllVersions,
	TypeCopyAccessGroup,
	TypeDeleteAccessGroup,
	TypePublishAccessGroup,
	TypeUnpublishAccessGroup,
}

// IsValid checks if the event type is a known type.
func (t EventType) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsVersionLevel reports whether the event affects a single object version.
func (t EventType) IsVersionLevel() bool {
	return t == TypeNewVersion
}

// IsObjectLevel reports whether the event affects all versions of an object.
func (t EventType) IsObjectLevel() bool {
	switch t {
	case TypeDeleteAllVersions, TypeNewAllVersions, TypePublishAllVersions,
		TypeRenameAllVersions, TypeUndeleteAllVersions, TypeUnpublishAllVersions:
		return true
	default:
		return false
	}
}

// IsAdmissible reports whether an event of this type may enter an entity queue.
//
// UNPUBLISH_ALL_VERSIONS is object-level but is not admitted, unlike its
// sibling ALL_VERSIONS types. The asymmetry is intentionally preserved from
// the upstream event contract.
func (t EventType) IsAdmissible() bool {
	switch t {
	case TypeNewVersion,
		TypeDeleteAllVersions,
		TypeNewAllVersions,
		TypePublishAllVersions,
		TypeRenameAllVersions,
		TypeUndeleteAllVersions:
		return true
	default:
		return false
	}
}

// ParseEventType parses a type name, case-insensitively.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown event type: %q", s)
	}
	return t, nil
}

// ProcessingState is the durable processing state of a stored event.
type ProcessingState string

const (
	StateUnprocessed ProcessingState = "UNPROC"
	StateReady       ProcessingState = "READY"
	StateProcessing  ProcessingState = "PROC"
	StateIndexed     ProcessingState = "INDX"
	StateUnindexed   ProcessingState = "UNINDX"
	StateFailed      ProcessingState = "FAIL"
)

// IsValid checks if the state is a known state.
func (s ProcessingState) IsValid() bool {
	switch s {
	case StateUnprocessed, StateReady, StateProcessing, StateIndexed, StateUnindexed, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are expected.
func (s ProcessingState) IsTerminal() bool {
	return s == StateIndexed || s == StateUnindexed || s == StateFailed
}

// ParseProcessingState parses a state code such as "UNPROC".
func ParseProcessingState(s string) (ProcessingState, error) {
	st := ProcessingState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("unknown processing state: %q", s)
	}
	return st, nil
}

// EventID is the durable identifier of a stored event.
type EventID string

// Event describes a change in the object store.
//
// GroupingKey scopes ordering: events sharing a key are ordered against each
// other, events with different keys are independent.
type Event struct {
	GroupingKey string    `json:"groupingKey" bson:"key" validate:"required"`
	Timestamp   time.Time `json:"timestamp" bson:"time" validate:"required"`
	Type        EventType `json:"type" bson:"type" validate:"required"`

	StorageCode   string `json:"storageCode,omitempty" bson:"storcode,omitempty"`
	AccessGroupID int64  `json:"accessGroupId,omitempty" bson:"accgrp,omitempty"`
	ObjectID      string `json:"objectId,omitempty" bson:"objid,omitempty"`
	Version       int    `json:"version,omitempty" bson:"ver,omitempty"`
	ObjectType    string `json:"objectType,omitempty" bson:"storobjtype,omitempty"`
	NewName       string `json:"newName,omitempty" bson:"newname,omitempty"`
	Public        bool   `json:"public,omitempty" bson:"public,omitempty"`
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	if strings.TrimSpace(e.GroupingKey) == "" {
		return errors.New("event grouping key is required")
	}
	if e.Timestamp.IsZero() {
		return errors.New("event timestamp is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	return nil
}

// StateUpdate records when and why a stored event last changed state.
type StateUpdate struct {
	Time time.Time `json:"time" bson:"time"`
	Note string    `json:"note,omitempty" bson:"note,omitempty"`
}

// StoredEvent is an event as persisted in the event store.
type StoredEvent struct {
	Event      Event           `json:"event"`
	ID         EventID         `json:"id"`
	State      ProcessingState `json:"state"`
	LastUpdate *StateUpdate    `json:"lastUpdate,omitempty"`
}

func (s StoredEvent) String() string {
	return fmt.Sprintf("StoredEvent[id=%s key=%s type=%s time=%s state=%s]",
		s.ID, s.Event.GroupingKey, s.Event.Type, s.Event.Timestamp.Format(time.RFC3339Nano), s.State)
}
