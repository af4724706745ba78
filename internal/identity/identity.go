// Package identity resolves opaque session tokens to user identities and
// manages the accounts those tokens belong to.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated is returned for missing, unknown or expired tokens.
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	// ErrUserExists is returned when registering a taken username or email.
	ErrUserExists = errors.New("identity: user already exists")
	// ErrInvalidCredentials is returned by Login on a bad username/password.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrUserNotFound is returned when a user record is missing.
	ErrUserNotFound = errors.New("identity: user not found")
)

// Identity is the resolved owner of a request.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Resolver maps a session token to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*Identity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, token string) (*Identity, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, token string) (*Identity, error) {
	return f(ctx, token)
}

// TokenFromRequest returns the session token carried by r, preferring the
// X-Session-Token header over an Authorization bearer token.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get("X-Session-Token")); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(tok)
	}
	return ""
}
