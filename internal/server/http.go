package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/alfredjeanlab/mapstate/internal/identity"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/location"
	"github.com/alfredjeanlab/mapstate/internal/model"
	"github.com/alfredjeanlab/mapstate/internal/state"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 4 << 20

// NewHTTPHandler returns an http.Handler with all routes registered, wrapped
// in recovery, tracing, logging and CORS middleware.
func (s *Server) NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/state", s.handleSaveState)
	mux.HandleFunc("GET /api/state/list", s.requireAdmin(s.handleListStates))
	mux.HandleFunc("GET /api/state/{id}", s.handleGetState)
	mux.HandleFunc("DELETE /api/state/{id}", s.handleDeleteState)

	mux.HandleFunc("POST /api/user-states", s.handleSaveUserState)
	mux.HandleFunc("GET /api/user-states", s.handleGetUserStates)
	mux.HandleFunc("DELETE /api/user-states", s.handleDeleteUserState)

	mux.HandleFunc("POST /api/session", s.handleCreateRoom)
	mux.HandleFunc("POST /api/session/{sessionId}/location", s.handleReportLocation)
	mux.HandleFunc("GET /api/session/{sessionId}/locations", s.handleRoster)
	mux.HandleFunc("GET /api/session/{sessionId}/stream", s.handleSessionStream)

	mux.HandleFunc("POST /api/create-session", s.handleCreateSession)
	mux.HandleFunc("GET /api/get-session", s.handleGetSession)
	mux.HandleFunc("POST /api/update-session", s.handleUpdateSession)

	mux.HandleFunc("POST /api/employee-location", s.handleReportEmployee)
	mux.HandleFunc("GET /api/employee-location-list", s.handleListEmployees)
	mux.HandleFunc("GET /api/employee-location/{id}/history", s.handleEmployeeHistory)
	mux.HandleFunc("GET /api/employee-location/stream", s.handleEmployeeStream)

	mux.HandleFunc("POST /api/auth", s.handleAuth)
	mux.HandleFunc("POST /api/users", s.handleUsersAction)
	mux.HandleFunc("GET /api/users", s.handleUsersQuery)

	mux.HandleFunc("GET /api/image-proxy", s.handleImageProxy)

	var h http.Handler = mux
	h = LoggingMiddleware(h)
	h = TracingMiddleware(h)
	h = RecoveryMiddleware(h)
	h = CORSMiddleware(s.opts.AllowedOrigin, h)
	return h
}

// handleHealth handles GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return inputError("invalid JSON body")
	}
	return nil
}

// readBody returns the raw request body, rejecting bodies over maxBodyBytes.
func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, inputError("failed to read body")
	}
	if len(data) > maxBodyBytes {
		return nil, inputError(fmt.Sprintf("body exceeds %d bytes", maxBodyBytes))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, inputError("body is required")
	}
	return data, nil
}

// requireIdentity resolves the caller or fails with ErrUnauthenticated.
func (s *Server) requireIdentity(r *http.Request) (*identity.Identity, error) {
	return s.Resolver.Resolve(r.Context(), identity.TokenFromRequest(r))
}

// writeServiceError logs server-side failures and writes the mapped error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, what string) {
	code, msg := errorStatus(err, what)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, code, msg)
}

// writeFailure is writeServiceError for the routes whose clients expect a
// "success" flag in every body.
func writeFailure(w http.ResponseWriter, r *http.Request, err error, what string) {
	code, msg := errorStatus(err, what)
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
