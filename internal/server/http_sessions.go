package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/idgen"
	"github.com/alfredjeanlab/mapstate/internal/location"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// handleCreateRoom handles POST /api/session.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	sid, err := s.locations.CreateRoom(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "create session")
		return
	}
	s.publish(r.Context(), events.TopicSessionCreated, events.SessionCreated{SessionID: sid})
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sid})
}

// locationInput is the body of a location report. Coordinates are pointers
// so that a missing value is told apart from zero.
type locationInput struct {
	UserID    string          `json:"userId"`
	Nickname  string          `json:"nickname"`
	Lat       *float64        `json:"lat"`
	Lng       *float64        `json:"lng"`
	Timestamp int64           `json:"timestamp"`
	Draws     json.RawMessage `json:"draws,omitempty"`
	Models    json.RawMessage `json:"models,omitempty"`
}

// handleReportLocation handles POST /api/session/{sessionId}/location.
func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sessionId")
	var in locationInput
	if err := decodeBody(r, &in); err != nil {
		writeServiceError(w, r, err, "report location")
		return
	}
	if strings.TrimSpace(in.UserID) == "" || in.Lat == nil || in.Lng == nil {
		writeError(w, http.StatusBadRequest, "userId, lat and lng are required")
		return
	}

	loc := &model.Location{
		UserID:    in.UserID,
		Nickname:  in.Nickname,
		Lat:       *in.Lat,
		Lng:       *in.Lng,
		Timestamp: in.Timestamp,
		Draws:     in.Draws,
		Models:    in.Models,
	}
	if err := s.locations.Report(r.Context(), sid, loc); err != nil {
		writeServiceError(w, r, err, "report location")
		return
	}
	s.Presence.Seen(sid, loc.UserID)
	s.publish(r.Context(), events.LocationTopic(sid), events.LocationReported{SessionID: sid, Location: loc})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleRoster handles GET /api/session/{sessionId}/locations.
func (s *Server) handleRoster(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale_secs"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "stale_secs must be a non-negative integer")
			return
		}
		stale = time.Duration(secs) * time.Second
	}
	users, err := s.locations.Roster(r.Context(), r.PathValue("sessionId"), stale)
	if err != nil {
		writeServiceError(w, r, err, "list locations")
		return
	}
	if users == nil {
		users = []location.RosterEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleCreateSession handles POST /api/create-session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerName string `json:"ownerName"`
	}
	// An empty body creates a guest session.
	if r.ContentLength != 0 {
		if err := decodeBody(r, &in); err != nil {
			writeServiceError(w, r, err, "create session")
			return
		}
	}

	id, err := idgen.Generate()
	if err != nil {
		writeServiceError(w, r, err, "create session")
		return
	}
	snap := model.NewSessionSnapshot(id, strings.TrimSpace(in.OwnerName), time.Now())
	payload, err := json.Marshal(snap)
	if err != nil {
		writeServiceError(w, r, err, "create session")
		return
	}
	if err := s.sessions.Replace(r.Context(), "", id, payload); err != nil {
		writeServiceError(w, r, err, "create session")
		return
	}
	s.publish(r.Context(), events.TopicSessionCreated, events.SessionCreated{SessionID: id, Owner: snap.Owner})
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetSession handles GET /api/get-session?id= (or ?session_id=).
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		id = q.Get("session_id")
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, err := s.sessions.Fetch(r.Context(), "", id)
	if err != nil {
		writeServiceError(w, r, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"session": rec.Payload})
}

// handleUpdateSession handles POST /api/update-session.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID      string          `json:"id"`
		Session json.RawMessage `json:"session"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeServiceError(w, r, err, "update session")
		return
	}
	if in.ID == "" || len(in.Session) == 0 {
		writeError(w, http.StatusBadRequest, "id and session are required")
		return
	}
	if err := s.sessions.Replace(r.Context(), "", in.ID, in.Session); err != nil {
		writeServiceError(w, r, err, "update session")
		return
	}
	s.publish(r.Context(), events.TopicSessionUpdated, events.SessionUpdated{SessionID: in.ID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
