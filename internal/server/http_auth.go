package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/identity"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// accountRequest is the body shared by the /api/auth and /api/users actions.
type accountRequest struct {
	Action       string          `json:"action"`
	Username     string          `json:"username"`
	Email        string          `json:"email"`
	Password     string          `json:"password"`
	SessionToken string          `json:"sessionToken"`
	ModelID      string          `json:"modelId"`
	ProfileData  json.RawMessage `json:"profileData,omitempty"`
	Lat          *float64        `json:"lat"`
	Lng          *float64        `json:"lng"`
}

// token returns the session token from the body, falling back to the
// request headers.
func (in *accountRequest) token(r *http.Request) string {
	if in.SessionToken != "" {
		return in.SessionToken
	}
	return identity.TokenFromRequest(r)
}

func (in *accountRequest) registration() identity.RegisterInput {
	return identity.RegisterInput{
		Username:    in.Username,
		Email:       in.Email,
		Password:    in.Password,
		ModelID:     in.ModelID,
		ProfileData: in.ProfileData,
	}
}

// handleAuth handles POST /api/auth.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var in accountRequest
	if err := decodeBody(r, &in); err != nil {
		writeFailure(w, r, err, "authenticate")
		return
	}
	ctx := r.Context()

	switch in.Action {
	case "test":
		err := s.store.Ping(ctx)
		_, noop := s.publisher.(*events.NoopPublisher)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "API is working",
			"envStatus": map[string]bool{
				"storeReachable": err == nil,
				"eventsEnabled":  !noop,
			},
		})

	case "register":
		u, err := s.accounts.Register(ctx, in.registration())
		if err != nil {
			writeFailure(w, r, err, "register")
			return
		}
		s.publish(ctx, events.TopicUserRegistered, events.UserRegistered{UserID: u.ID, Username: u.Username})
		tok, _, err := s.accounts.Login(ctx, in.Username, in.Password)
		if err != nil {
			writeFailure(w, r, err, "log in")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"success":      true,
			"userId":       u.ID,
			"username":     u.Username,
			"sessionToken": tok,
		})

	case "login":
		if in.Username == "" || in.Password == "" {
			writeFailure(w, r, inputError("username and password required"), "log in")
			return
		}
		tok, u, err := s.accounts.Login(ctx, in.Username, in.Password)
		if err != nil {
			writeFailure(w, r, err, "log in")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"userId":       u.ID,
			"username":     u.Username,
			"sessionToken": tok,
		})

	case "verify":
		who, err := s.Resolver.Resolve(ctx, in.token(r))
		if err != nil {
			writeFailure(w, r, err, "verify session")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"userId":   who.UserID,
			"username": who.Username,
		})

	case "logout":
		if err := s.accounts.Logout(ctx, in.token(r)); err != nil {
			writeFailure(w, r, err, "log out")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})

	default:
		writeFailure(w, r, inputError("unknown action"), "authenticate")
	}
}

// handleUsersAction handles POST /api/users.
func (s *Server) handleUsersAction(w http.ResponseWriter, r *http.Request) {
	var in accountRequest
	if err := decodeBody(r, &in); err != nil {
		writeFailure(w, r, err, "update user")
		return
	}
	ctx := r.Context()

	switch in.Action {
	case "register":
		u, err := s.accounts.Register(ctx, in.registration())
		if err != nil {
			writeFailure(w, r, err, "register")
			return
		}
		s.publish(ctx, events.TopicUserRegistered, events.UserRegistered{UserID: u.ID, Username: u.Username})
		writeJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"userId":  u.ID,
			"message": "User registered successfully",
		})

	case "login":
		if in.Username == "" || in.Password == "" {
			writeFailure(w, r, inputError("username and password required"), "log in")
			return
		}
		tok, u, err := s.accounts.Login(ctx, in.Username, in.Password)
		if err != nil {
			writeFailure(w, r, err, "log in")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "sessionToken": tok, "user": u})

	case "updateLocation":
		if in.Lat == nil || in.Lng == nil {
			writeFailure(w, r, inputError("lat and lng are required"), "update location")
			return
		}
		if _, err := s.accounts.UpdateLocation(ctx, in.token(r), *in.Lat, *in.Lng); err != nil {
			writeFailure(w, r, err, "update location")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Location updated"})

	case "linkModel":
		if _, err := s.accounts.LinkModel(ctx, in.token(r), strings.TrimSpace(in.ModelID)); err != nil {
			writeFailure(w, r, err, "link model")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Model linked successfully"})

	default:
		writeFailure(w, r, inputError("unknown action"), "update user")
	}
}

// handleUsersQuery handles GET /api/users?action=profile|all.
func (s *Server) handleUsersQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch q.Get("action") {
	case "profile":
		tok := q.Get("sessionToken")
		if tok == "" {
			tok = identity.TokenFromRequest(r)
		}
		u, err := s.accounts.Profile(r.Context(), tok)
		if err != nil {
			writeFailure(w, r, err, "user")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u})

	case "all":
		if !s.isAdmin(r) {
			writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "forbidden"})
			return
		}
		users, err := s.accounts.ListUsers(r.Context())
		if err != nil {
			writeFailure(w, r, err, "list users")
			return
		}
		if users == nil {
			users = []*model.User{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "users": users})

	default:
		writeFailure(w, r, inputError("invalid action"), "query users")
	}
}
