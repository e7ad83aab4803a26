package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DedupHandler wraps a slog.Handler and drops records identical to one
// passed through within the last Window. Identity covers level, message and
// attributes, but not the time. The next identical record after the window
// carries the number of records dropped as repeated_count.
//
// A coordinator that fails the same way on every cycle logs the failure
// once per window instead of once per cycle.
type DedupHandler struct {
	handler slog.Handler
	state   *dedupState
	scope   uint64
}

type dedupState struct {
	mu     sync.Mutex
	window time.Duration
	seen   *lru.Cache[uint64, *dedupEntry]
	now    func() time.Time
}

type dedupEntry struct {
	passed  time.Time
	dropped int
}

// NewDedupHandler wraps handler. At most maxKeys distinct records are
// tracked; the least recently seen is forgotten first.
func NewDedupHandler(handler slog.Handler, window time.Duration, maxKeys int) (*DedupHandler, error) {
	return newDedupHandler(handler, window, maxKeys, time.Now)
}

func newDedupHandler(handler slog.Handler, window time.Duration, maxKeys int, now func() time.Time) (*DedupHandler, error) {
	seen, err := lru.New[uint64, *dedupEntry](maxKeys)
	if err != nil {
		return nil, err
	}
	return &DedupHandler{
		handler: handler,
		state:   &dedupState{window: window, seen: seen, now: now},
	}, nil
}

// Enabled reports whether the handler handles records at the given level.
func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle passes r on unless an identical record passed within the window.
func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.hashRecord(r)
	s := h.state

	s.mu.Lock()
	now := s.now()
	entry, ok := s.seen.Get(key)
	if ok && now.Sub(entry.passed) < s.window {
		entry.dropped++
		s.mu.Unlock()
		return nil
	}
	dropped := 0
	if ok {
		dropped = entry.dropped
	}
	s.seen.Add(key, &dedupEntry{passed: now})
	s.mu.Unlock()

	if dropped > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("repeated_count", dropped))
	}
	return h.handler.Handle(ctx, r)
}

func (h *DedupHandler) hashRecord(r slog.Record) uint64 {
	d := xxhash.New()
	d.WriteString(strconv.FormatUint(h.scope, 16))
	d.WriteString("|")
	d.WriteString(r.Level.String())
	d.WriteString("|")
	d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		d.WriteString("|")
		d.WriteString(a.String())
		return true
	})
	return d.Sum64()
}

// WithAttrs returns a handler sharing the dedup state. Records logged
// through loggers with different attributes never count as identical.
func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	d.WriteString(strconv.FormatUint(h.scope, 16))
	for _, a := range attrs {
		d.WriteString("|")
		d.WriteString(a.String())
	}
	return &DedupHandler{handler: h.handler.WithAttrs(attrs), state: h.state, scope: d.Sum64()}
}

// WithGroup returns a handler sharing the dedup state.
func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	scope := xxhash.Sum64String(strconv.FormatUint(h.scope, 16) + "#" + name)
	return &DedupHandler{handler: h.handler.WithGroup(name), state: h.state, scope: scope}
}
