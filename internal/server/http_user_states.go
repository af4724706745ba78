package server

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/model"
	"github.com/alfredjeanlab/mapstate/internal/state"
)

// handleSaveUserState handles POST /api/user-states.
func (s *Server) handleSaveUserState(w http.ResponseWriter, r *http.Request) {
	who, err := s.requireIdentity(r)
	if err != nil {
		writeFailure(w, r, err, "save state")
		return
	}
	var in struct {
		Name  string          `json:"name"`
		State json.RawMessage `json:"state"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeFailure(w, r, err, "save state")
		return
	}
	name := strings.TrimSpace(in.Name)
	if name == "" || len(in.State) == 0 {
		writeFailure(w, r, inputError("name and state are required"), "save state")
		return
	}

	id, err := s.states.SaveNamed(r.Context(), who.UserID, name, in.State)
	if err != nil {
		writeFailure(w, r, err, "save state")
		return
	}
	s.publish(r.Context(), events.TopicStateSaved, events.StateSaved{Namespace: state.Namespace, ID: id, OwnerID: who.UserID})
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":  true,
		"id":       id,
		"shareUrl": s.shareURL(r, id),
	})
}

// handleGetUserStates handles GET /api/user-states. With ?id= it returns one
// state of the caller; without, it lists the caller's states.
func (s *Server) handleGetUserStates(w http.ResponseWriter, r *http.Request) {
	who, err := s.requireIdentity(r)
	if err != nil {
		writeFailure(w, r, err, "get state")
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := s.states.Fetch(r.Context(), who.UserID, id)
		if err != nil {
			writeFailure(w, r, err, "state")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"id":        rec.ID,
			"name":      rec.Name,
			"state":     rec.Payload,
			"createdAt": rec.CreatedAt,
		})
		return
	}

	recs, err := s.states.List(r.Context(), who.UserID)
	if err != nil {
		writeFailure(w, r, err, "list states")
		return
	}
	out := make([]model.RecordSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "states": out})
}

// handleDeleteUserState handles DELETE /api/user-states?id=.
func (s *Server) handleDeleteUserState(w http.ResponseWriter, r *http.Request) {
	who, err := s.requireIdentity(r)
	if err != nil {
		writeFailure(w, r, err, "delete state")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeFailure(w, r, inputError("id is required"), "delete state")
		return
	}
	deleted, err := s.states.Remove(r.Context(), who.UserID, id)
	if err != nil {
		writeFailure(w, r, err, "delete state")
		return
	}
	if !deleted {
		writeFailure(w, r, state.ErrNotFound, "state")
		return
	}
	s.publish(r.Context(), events.TopicStateDeleted, events.StateDeleted{Namespace: state.Namespace, ID: id, OwnerID: who.UserID})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": true})
}

// shareURL builds the link that reopens a saved state in the web app.
func (s *Server) shareURL(r *http.Request, id string) string {
	base := s.opts.PublicURL
	if base == "" {
		base = r.Header.Get("Origin")
	}
	if base == "" {
		scheme := "https"
		if r.TLS == nil && isLoopbackHost(r.Host) {
			scheme = "http"
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/?user_state_id=" + url.QueryEscape(id)
}

func isLoopbackHost(hostport string) bool {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
