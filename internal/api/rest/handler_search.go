package rest

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/syntrixbase/searchindexer/internal/indexing"
)

const defaultSearchLimit = 100

var validate = validator.New()

// SearchRequest is decoded from the query string.
type SearchRequest struct {
	Text           string  `schema:"text"`
	Type           string  `schema:"type"`
	Groups         []int64 `schema:"group" validate:"dive,gte=0"`
	Public         bool    `schema:"public"`
	IncludeDeleted bool    `schema:"deleted"`
	Limit          int     `schema:"limit" validate:"gte=0,lte=1000"`
}

// SearchResponse lists matching documents.
type SearchResponse struct {
	Documents []indexing.Document `json:"documents"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "Search index is not available")
		return
	}
	var req SearchRequest
	if err := h.decoder.Decode(&req, r.URL.Query()); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid query parameters")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Invalid search parameters")
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultSearchLimit
	}

	docs, err := h.search.Search(r.Context(), indexing.Query{
		Text:           req.Text,
		SearchType:     req.Type,
		AccessGroupIDs: req.Groups,
		IncludePublic:  req.Public,
		IncludeDeleted: req.IncludeDeleted,
		Limit:          req.Limit,
	})
	if err != nil {
		h.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "Search failed")
		return
	}
	if docs == nil {
		docs = []indexing.Document{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Documents: docs})
}
