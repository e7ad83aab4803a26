package rest

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/syntrixbase/searchindexer/internal/coordinator"
	"github.com/syntrixbase/searchindexer/internal/queue"
)

// StatusResponse describes the coordinator's queue.
type StatusResponse struct {
	Running          bool       `json:"running"`
	QueueSize        int        `json:"queueSize"`
	MaxQueueSize     int        `json:"maxQueueSize"`
	ContinuousCycles int        `json:"continuousCycles"`
	BlockTime        *time.Time `json:"blockTime,omitempty"`
}

// BlockRequest is decoded from the query string. At is RFC 3339 or epoch
// milliseconds.
type BlockRequest struct {
	At string `schema:"at"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.coordinator != nil && !h.coordinator.IsRunning() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "coordinator stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Coordinator not running in this process")
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) status() StatusResponse {
	resp := StatusResponse{
		Running:          h.coordinator.IsRunning(),
		QueueSize:        h.coordinator.QueueSize(),
		MaxQueueSize:     h.coordinator.MaxQueueSize(),
		ContinuousCycles: h.coordinator.ContinuousCycles(),
	}
	if t, ok := h.coordinator.BlockTime(); ok {
		resp.BlockTime = &t
	}
	return resp
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Coordinator not running in this process")
		return
	}
	var req BlockRequest
	if err := h.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	t, err := parseBlockTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if err := h.coordinator.DrainAndBlockAt(r.Context(), t); err != nil {
		h.writeControlError(w, err)
		return
	}
	h.logger.Info("queue blocked", "time", t)
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Coordinator not running in this process")
		return
	}
	if err := h.coordinator.RemoveBlock(r.Context()); err != nil {
		h.writeControlError(w, err)
		return
	}
	h.logger.Info("queue block removed")
	writeJSON(w, http.StatusOK, h.status())
}

func (h *Handler) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, coordinator.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Coordinator is not running")
	default:
		h.logger.Error("queue control failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Internal server error")
	}
}

func parseBlockTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("query parameter at is required")
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New("query parameter at must be RFC 3339 or epoch milliseconds")
	}
	return t, nil
}
