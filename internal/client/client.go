// Package client provides a transport-agnostic interface for the mapstate
// service and an HTTP/JSON implementation that talks to its REST API.
package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/model"
)

// StateClient is the interface the mapstate CLI commands use to talk to the
// server. It is implemented by HTTPClient.
type StateClient interface {
	// Anonymous (or token-scoped) map states
	SaveState(ctx context.Context, state json.RawMessage) (string, error)
	GetState(ctx context.Context, id string) (*State, error)
	DeleteState(ctx context.Context, id string) (bool, error)
	ListStates(ctx context.Context) ([]*State, error)

	// Named states of the logged-in user
	SaveUserState(ctx context.Context, name string, state json.RawMessage) (*SavedUserState, error)
	GetUserState(ctx context.Context, id string) (*UserState, error)
	ListUserStates(ctx context.Context) ([]model.RecordSummary, error)
	DeleteUserState(ctx context.Context, id string) error

	// Accounts
	Login(ctx context.Context, username, password string) (*LoginResponse, error)

	// Health
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// State is a stored map state as returned by /api/state.
type State struct {
	ID        string          `json:"id"`
	State     json.RawMessage `json:"state"`
	CreatedAt *time.Time      `json:"createdAt,omitempty"`
}

// UserState is one named state of the logged-in user.
type UserState struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SavedUserState is the reply to SaveUserState.
type SavedUserState struct {
	ID       string `json:"id"`
	ShareURL string `json:"shareUrl"`
}

// LoginResponse carries the session token issued by Login.
type LoginResponse struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	SessionToken string `json:"sessionToken"`
}
