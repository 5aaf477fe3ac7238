package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hearthlab/hearth-core/internal/bus"
	"github.com/hearthlab/hearth-core/internal/state"
)

// setStateRequest is the body for POST /api/states/{entity_id}.
type setStateRequest struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// handleListStates returns every current entity state.
func (s *Server) handleListStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.All())
}

// handleGetState returns one entity's current state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	st := s.store.Get(entityID)
	if st == nil {
		writeNotFound(w, "entity not found: "+entityID)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSetState writes an entity state on behalf of the caller. The
// authenticated subject is recorded in the event context so downstream
// consumers can attribute the change.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var body setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	created := s.store.Get(entityID) == nil

	eventCtx := bus.NewContext()
	eventCtx.UserID = userID(r)

	st, err := s.store.Set(entityID, body.State, body.Attributes, eventCtx)
	if err != nil {
		if errors.Is(err, state.ErrInvalidEntityID) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "state write failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, st)
}
