package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/syntrixbase/searchindexer/internal/core/eventstore"
	"github.com/syntrixbase/searchindexer/internal/events"
	"github.com/syntrixbase/searchindexer/internal/ingest"
)

const sourceHTTP = "http"

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	if h.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Event ingestion is disabled")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Failed to read request body")
		return
	}
	msg, err := ingest.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	ev, err := msg.Event()
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	stored, err := h.ingester.Store(r.Context(), sourceHTTP, events.EventID(msg.ID), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, stored)
	case errors.Is(err, ingest.ErrInvalidMessage), errors.Is(err, ingest.ErrInadmissible):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, eventstore.ErrDuplicateEvent):
		writeError(w, http.StatusConflict, ErrCodeConflict, "Event already exists")
	default:
		h.logger.Error("failed to store event", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to store event")
	}
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Event store is not available")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Missing event ID")
		return
	}
	ev, err := h.events.Get(r.Context(), events.EventID(id))
	if errors.Is(err, eventstore.ErrEventNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "Event not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get event", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Failed to get event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
