package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/model"
	"github.com/alfredjeanlab/mapstate/internal/state"
)

// stateView is the response shape of a single map state.
type stateView struct {
	ID        string          `json:"id"`
	State     json.RawMessage `json:"state"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
}

func viewOf(rec *model.Record) stateView {
	v := stateView{ID: rec.ID, State: rec.Payload}
	if !rec.CreatedAt.IsZero() {
		t := rec.CreatedAt
		v.CreatedAt = &t
	}
	return v
}

// unwrapState returns body.state when the body is an object carrying a
// "state" member, and the whole body otherwise.
func unwrapState(body []byte) json.RawMessage {
	var wrapper struct {
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.State) > 0 && string(wrapper.State) != "null" {
		return wrapper.State
	}
	return body
}

// handleSaveState handles POST /api/state. Share links live in the unowned
// partition whatever token the caller sends; per-user states go through
// /api/user-states.
func (s *Server) handleSaveState(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeServiceError(w, r, err, "save state")
		return
	}

	id, err := s.states.Save(r.Context(), "", unwrapState(body))
	if err != nil {
		writeServiceError(w, r, err, "save state")
		return
	}

	s.publish(r.Context(), events.TopicStateSaved, events.StateSaved{Namespace: state.Namespace, ID: id})
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetState handles GET /api/state/{id}.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	rec, err := s.states.Fetch(r.Context(), "", r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "state")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

// handleDeleteState handles DELETE /api/state/{id}.
func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.states.Remove(r.Context(), "", id)
	if err != nil {
		writeServiceError(w, r, err, "delete state")
		return
	}
	if deleted {
		s.publish(r.Context(), events.TopicStateDeleted, events.StateDeleted{Namespace: state.Namespace, ID: id})
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

// handleListStates handles GET /api/state/list (admin only).
func (s *Server) handleListStates(w http.ResponseWriter, r *http.Request) {
	recs, err := s.states.List(r.Context(), "")
	if err != nil {
		writeServiceError(w, r, err, "list states")
		return
	}
	out := make([]stateView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"states": out})
}
