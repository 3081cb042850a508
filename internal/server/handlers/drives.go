package handlers

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/phoenix-pocx/phoenixd/internal/errors"
	"github.com/phoenix-pocx/phoenixd/pkg/drives"
	"github.com/phoenix-pocx/phoenixd/pkg/history"
)

// DrivesScan serves GET /drives?path=...
func DrivesScan(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		respondWithError(w, r, apperrors.NewBadRequest("path query parameter is required", nil))
		return
	}
	scan, err := drives.ScanDir(path)
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "scan drive"))
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// HistoryResponse is the body of the history endpoint.
type HistoryResponse struct {
	Records []history.Record `json:"records"`
	Summary history.Summary  `json:"summary"`
}

// History serves the completion journal.
type History struct {
	store *history.Store
}

// NewHistory creates the history handlers.
func NewHistory(store *history.Store) *History {
	return &History{store: store}
}

// List serves GET /plotter/history?limit=N.
func (h *History) List(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, r, apperrors.NewBadRequest("limit must be a positive integer", err))
			return
		}
		limit = n
	}
	records, err := h.store.List(limit)
	if err != nil {
		respondWithError(w, r, apperrors.NewExternalServiceError("history", err))
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Records: records, Summary: history.Summarize(records)})
}

// Get serves GET /plotter/history/{seq}.
func (h *History) Get(seqParam func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := strconv.ParseUint(seqParam(r), 10, 64)
		if err != nil {
			respondWithError(w, r, apperrors.NewBadRequest("invalid sequence number", err))
			return
		}
		rec, err := h.store.Get(seq)
		if err != nil {
			respondWithError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
