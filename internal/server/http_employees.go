package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// handleReportEmployee handles POST /api/employee-location.
func (s *Server) handleReportEmployee(w http.ResponseWriter, r *http.Request) {
	var in struct {
		EmployeeID string   `json:"employeeId"`
		Latitude   *float64 `json:"latitude"`
		Longitude  *float64 `json:"longitude"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeServiceError(w, r, err, "report employee location")
		return
	}
	if strings.TrimSpace(in.EmployeeID) == "" || in.Latitude == nil || in.Longitude == nil {
		writeError(w, http.StatusBadRequest, "employeeId, latitude and longitude are required")
		return
	}

	loc := &model.EmployeeLocation{EmployeeID: in.EmployeeID, Latitude: *in.Latitude, Longitude: *in.Longitude}
	if err := s.locations.ReportEmployee(r.Context(), loc); err != nil {
		writeServiceError(w, r, err, "report employee location")
		return
	}
	s.publish(r.Context(), events.TopicEmployeeLocation, events.EmployeeLocated{Location: loc})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleListEmployees handles GET /api/employee-location-list.
func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	emps, err := s.locations.Employees(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "list employees")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employees": emps})
}

// handleEmployeeHistory handles GET /api/employee-location/{id}/history.
func (s *Server) handleEmployeeHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}
	hist, err := s.locations.History(r.Context(), id, n)
	if err != nil {
		writeServiceError(w, r, err, "read employee history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "history": hist})
}
