// Package indexing is the search side of the indexer: the storage the
// workers write indexed documents to, the type rules that decide which
// stored objects are indexed, and the handler that applies one event.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// ErrObjectNotFound is returned when an operation targets an object that has
// never been indexed.
var ErrObjectNotFound = errors.New("object not found in index")

// ObjectRef identifies an object in its source storage system. A zero
// Version refers to the object as a whole.
type ObjectRef struct {
	StorageCode   string `json:"storageCode"`
	AccessGroupID int64  `json:"accessGroupId"`
	ObjectID      string `json:"objectId"`
	Version       int    `json:"version,omitempty"`
}

// RefFromEvent returns the object an event refers to.
func RefFromEvent(ev events.Event) ObjectRef {
	return ObjectRef{
		StorageCode:   ev.StorageCode,
		AccessGroupID: ev.AccessGroupID,
		ObjectID:      ev.ObjectID,
		Version:       ev.Version,
	}
}

// Object returns the ref with the version cleared.
func (r ObjectRef) Object() ObjectRef {
	r.Version = 0
	return r
}

func (r ObjectRef) String() string {
	if r.Version == 0 {
		return fmt.Sprintf("%s:%d/%s", r.StorageCode, r.AccessGroupID, r.ObjectID)
	}
	return fmt.Sprintf("%s:%d/%s/%d", r.StorageCode, r.AccessGroupID, r.ObjectID, r.Version)
}

// Document is one indexed object version.
type Document struct {
	Ref               ObjectRef `json:"ref"`
	SearchType        string    `json:"searchType"`
	SearchTypeVersion int       `json:"searchTypeVersion"`
	StorageObjectType string    `json:"storageObjectType,omitempty"`
	Name              string    `json:"name,omitempty"`
	Public            bool      `json:"public"`
	Deleted           bool      `json:"deleted"`
	Timestamp         time.Time `json:"timestamp"`
}

// Query filters documents.
type Query struct {
	// Text matches the name or object ID, case-insensitively.
	Text string
	// SearchType restricts results to one search type when set.
	SearchType string
	// AccessGroupIDs are the groups the caller may read.
	AccessGroupIDs []int64
	// IncludePublic adds public documents outside AccessGroupIDs.
	IncludePublic bool
	// IncludeDeleted returns deleted documents too.
	IncludeDeleted bool
	// Limit caps the result size; zero means no limit.
	Limit int
}

// Storage is the search index written by the workers.
type Storage interface {
	// IndexObject adds or replaces a document.
	IndexObject(ctx context.Context, doc Document) error

	// DeleteAllVersions marks every version of an object deleted.
	DeleteAllVersions(ctx context.Context, obj ObjectRef) error

	// UndeleteAllVersions clears the deleted mark on every version.
	UndeleteAllVersions(ctx context.Context, obj ObjectRef) error

	// PublishAllVersions makes every version public.
	PublishAllVersions(ctx context.Context, obj ObjectRef) error

	// UnpublishAllVersions makes every version private.
	UnpublishAllVersions(ctx context.Context, obj ObjectRef) error

	// SetNameOnAllObjectVersions renames every version and returns the
	// number of documents changed.
	SetNameOnAllObjectVersions(ctx context.Context, obj ObjectRef, name string) (int, error)

	// Search returns matching documents ordered by ref.
	Search(ctx context.Context, q Query) ([]Document, error)
}
