package indexing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu sync.RWMutex
	// objects maps an object key to its versions.
	objects map[string]map[int]*Document
}

// NewMemoryStorage creates an empty index.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]map[int]*Document)}
}

func (s *MemoryStorage) IndexObject(_ context.Context, doc Document) error {
	if doc.Ref.ObjectID == "" {
		return fmt.Errorf("document without object id")
	}
	if doc.SearchType == "" {
		return fmt.Errorf("document %s without search type", doc.Ref)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.Ref.Object().String()
	versions, ok := s.objects[key]
	if !ok {
		versions = make(map[int]*Document)
		s.objects[key] = versions
	}
	d := doc
	versions[doc.Ref.Version] = &d
	return nil
}

func (s *MemoryStorage) DeleteAllVersions(_ context.Context, obj ObjectRef) error {
	return s.updateAll(obj, func(d *Document) { d.Deleted = true })
}

func (s *MemoryStorage) UndeleteAllVersions(_ context.Context, obj ObjectRef) error {
	return s.updateAll(obj, func(d *Document) { d.Deleted = false })
}

func (s *MemoryStorage) PublishAllVersions(_ context.Context, obj ObjectRef) error {
	return s.updateAll(obj, func(d *Document) { d.Public = true })
}

func (s *MemoryStorage) UnpublishAllVersions(_ context.Context, obj ObjectRef) error {
	return s.updateAll(obj, func(d *Document) { d.Public = false })
}

func (s *MemoryStorage) SetNameOnAllObjectVersions(_ context.Context, obj ObjectRef, name string) (int, error) {
	n := 0
	err := s.updateAll(obj, func(d *Document) {
		d.Name = name
		n++
	})
	return n, err
}

func (s *MemoryStorage) updateAll(obj ObjectRef, fn func(*Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.objects[obj.Object().String()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, obj.Object())
	}
	for _, d := range versions {
		fn(d)
	}
	return nil
}

func (s *MemoryStorage) Search(_ context.Context, q Query) ([]Document, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	groups := make(map[int64]struct{}, len(q.AccessGroupIDs))
	for _, g := range q.AccessGroupIDs {
		groups[g] = struct{}{}
	}

	s.mu.RLock()
	var out []Document
	for _, versions := range s.objects {
		for _, d := range versions {
			if d.Deleted && !q.IncludeDeleted {
				continue
			}
			if q.SearchType != "" && d.SearchType != q.SearchType {
				continue
			}
			if _, ok := groups[d.Ref.AccessGroupID]; !ok && !(q.IncludePublic && d.Public) {
				continue
			}
			if text != "" &&
				!strings.Contains(strings.ToLower(d.Name), text) &&
				!strings.Contains(strings.ToLower(d.Ref.ObjectID), text) {
				continue
			}
			out = append(out, *d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref, out[j].Ref
		if a.StorageCode != b.StorageCode {
			return a.StorageCode < b.StorageCode
		}
		if a.AccessGroupID != b.AccessGroupID {
			return a.AccessGroupID < b.AccessGroupID
		}
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.Version < b.Version
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
