// Package rest serves the indexer's HTTP API: health and queue status, the
// admin drain/block controls, manual event injection and index search.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/indexing"
)

// Coordinator is the part of the coordinator the API drives.
type Coordinator interface {
	IsRunning() bool
	QueueSize() int
	MaxQueueSize() int
	ContinuousCycles() int
	BlockTime() (time.Time, bool)
	DrainAndBlockAt(ctx context.Context, t time.Time) error
	RemoveBlock(ctx context.Context) error
}

// Ingester stores injected events as UNPROC.
type Ingester interface {
	Store(ctx context.Context, source string, id events.EventID, ev events.Event) (events.StoredEvent, error)
}

// EventReader looks up stored events.
type EventReader interface {
	Get(ctx context.Context, id events.EventID) (events.StoredEvent, error)
}

// Searcher queries the search index.
type Searcher interface {
	Search(ctx context.Context, q indexing.Query) ([]indexing.Document, error)
}

// Handler serves the API. Any dependency may be nil; its routes then answer
// 503.
type Handler struct {
	coordinator Coordinator
	ingester    Ingester
	events      EventReader
	search      Searcher
	logger      *slog.Logger
	decoder     *schema.Decoder
}

func NewHandler(coordinator Coordinator, ingester Ingester, reader EventReader, search Searcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	return &Handler{
		coordinator: coordinator,
		ingester:    ingester,
		events:      reader,
		search:      search,
		logger:      logger.With("component", "rest"),
		decoder:     decoder,
	}
}

// Default body size limit
const DefaultMaxBodySize = 1 << 20

// Default request timeout
const DefaultRequestTimeout = 30 * time.Second

// APIError represents a structured error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// RegisterRoutes adds the API routes to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/status", h.handleStatus)

	mux.HandleFunc("POST /v1/admin/block", h.wrap(h.handleBlock))
	mux.HandleFunc("DELETE /v1/admin/block", h.wrap(h.handleUnblock))

	mux.HandleFunc("POST /v1/events", h.wrap(maxBodySize(h.handleCreateEvent, DefaultMaxBodySize)))
	mux.HandleFunc("GET /v1/events/{id}", h.wrap(h.handleGetEvent))

	mux.HandleFunc("GET /v1/search", h.wrap(h.handleSearch))
}

func (h *Handler) wrap(next http.HandlerFunc) http.HandlerFunc {
	return withTimeout(next, DefaultRequestTimeout)
}

// writeError writes a structured JSON error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, APIError{Code: code, Message: message})
}

// writeJSON writes a JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
	}
}

// maxBodySize wraps a handler with request body size limiting
func maxBodySize(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// withTimeout wraps a handler with a context timeout
func withTimeout(next http.HandlerFunc, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
