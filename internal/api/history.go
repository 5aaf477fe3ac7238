package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hearthlab/hearth-core/internal/state"
)

// defaultHistoryWindow is the window served when no start is given.
const defaultHistoryWindow = 24 * time.Hour

// handleHistory returns the recorded history for an entity between
// start and end (RFC 3339 query parameters). Defaults to the last 24
// hours ending now.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history recording is disabled")
		return
	}

	entityID := chi.URLParam(r, "entityID")
	if err := state.ValidateEntityID(entityID); err != nil {
		if errors.Is(err, state.ErrInvalidEntityID) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "entity validation failed")
		return
	}

	end := time.Now()
	if v := r.URL.Query().Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "end must be RFC 3339")
			return
		}
		end = t
	}

	start := end.Add(-defaultHistoryWindow)
	if v := r.URL.Query().Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "start must be RFC 3339")
			return
		}
		start = t
	}

	if !start.Before(end) {
		writeBadRequest(w, "start must be before end")
		return
	}

	entries, err := s.history.StatesBetween(r.Context(), entityID, start, end)
	if err != nil {
		s.logger.Error("history query failed", "entity_id", entityID, "error", err)
		writeInternalError(w, "history query failed")
		return
	}

	writeJSON(w, http.StatusOK, entries)
}
