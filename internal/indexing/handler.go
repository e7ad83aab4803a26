package indexing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// ErrUnsupportedEvent is returned for event types the handler does not index.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// Handler applies one event to the search index.
type Handler struct {
	storage Storage
	rules   *Rules
	logger  *slog.Logger
}

// NewHandler creates a handler. With nil rules every object is indexed under
// a search type named after its storage object type.
func NewHandler(storage Storage, rules *Rules, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		storage: storage,
		rules:   rules,
		logger:  logger.With("component", "indexing-handler"),
	}
}

// Handle applies ev and returns the state the event should end in: INDX
// when the index was updated, UNINDX when no search type takes the object,
// and FAIL together with the error otherwise.
func (h *Handler) Handle(ctx context.Context, ev events.StoredEvent) (events.ProcessingState, error) {
	state, err := h.handle(ctx, ev.Event)
	if err != nil {
		return events.StateFailed, err
	}
	h.logger.Debug("handled event", "id", ev.ID, "type", ev.Event.Type, "state", state)
	return state, nil
}

func (h *Handler) handle(ctx context.Context, ev events.Event) (events.ProcessingState, error) {
	ref := RefFromEvent(ev)
	if ref.ObjectID == "" {
		return "", fmt.Errorf("event %s has no object id", ev.Type)
	}
	switch ev.Type {
	case events.TypeNewVersion, events.TypeNewAllVersions:
		return h.index(ctx, ev, ref)
	case events.TypeDeleteAllVersions:
		return h.allVersions(ctx, ref, h.storage.DeleteAllVersions)
	case events.TypeUndeleteAllVersions:
		return h.allVersions(ctx, ref, h.storage.UndeleteAllVersions)
	case events.TypePublishAllVersions:
		return h.allVersions(ctx, ref, h.storage.PublishAllVersions)
	case events.TypeUnpublishAllVersions:
		return h.allVersions(ctx, ref, h.storage.UnpublishAllVersions)
	case events.TypeRenameAllVersions:
		if ev.NewName == "" {
			return "", fmt.Errorf("rename event without a new name")
		}
		if _, err := h.storage.SetNameOnAllObjectVersions(ctx, ref.Object(), ev.NewName); err != nil {
			return unindexedIfMissing(err)
		}
		return events.StateIndexed, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
}

func (h *Handler) index(ctx context.Context, ev events.Event, ref ObjectRef) (events.ProcessingState, error) {
	rules, err := h.match(ev)
	if err != nil {
		return "", err
	}
	if len(rules) == 0 {
		return events.StateUnindexed, nil
	}
	for _, rule := range rules {
		doc := Document{
			Ref:               ref,
			SearchType:        rule.SearchType,
			SearchTypeVersion: rule.Version,
			StorageObjectType: ev.ObjectType,
			Name:              ev.NewName,
			Public:            ev.Public,
			Timestamp:         ev.Timestamp,
		}
		if err := h.storage.IndexObject(ctx, doc); err != nil {
			return "", fmt.Errorf("failed to index %s as %s: %w", ref, rule.SearchType, err)
		}
	}
	return events.StateIndexed, nil
}

func (h *Handler) match(ev events.Event) ([]TypeRule, error) {
	if h.rules != nil {
		return h.rules.Match(ev)
	}
	if ev.ObjectType == "" {
		return nil, nil
	}
	return []TypeRule{{
		SearchType:        ev.ObjectType,
		Version:           1,
		StorageCode:       ev.StorageCode,
		StorageObjectType: ev.ObjectType,
	}}, nil
}

func (h *Handler) allVersions(ctx context.Context, ref ObjectRef, op func(context.Context, ObjectRef) error) (events.ProcessingState, error) {
	if err := op(ctx, ref.Object()); err != nil {
		return unindexedIfMissing(err)
	}
	return events.StateIndexed, nil
}

// unindexedIfMissing treats changes to objects that were never indexed, such
// as objects no search type takes, as nothing to do.
func unindexedIfMissing(err error) (events.ProcessingState, error) {
	if errors.Is(err, ErrObjectNotFound) {
		return events.StateUnindexed, nil
	}
	return "", err
}
