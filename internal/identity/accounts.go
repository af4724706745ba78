package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/alfredjeanlab/mapstate/internal/idgen"
	"github.com/alfredjeanlab/mapstate/internal/keys"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// DefaultSessionTTL is how long a login token stays valid.
const DefaultSessionTTL = 7 * 24 * time.Hour

// maxPasswordBytes is the longest password bcrypt accepts.
const maxPasswordBytes = 72

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Username    string          `json:"username"`
	Email       string          `json:"email"`
	Password    string          `json:"password"`
	ModelID     string          `json:"modelId,omitempty"`
	ProfileData json.RawMessage `json:"profileData,omitempty"`
}

// Accounts is the KV-backed account registry and session resolver.
//
// Layout:
//
//	user:<username>     model.User JSON
//	email:<email>       username
//	auth:<token>        Identity JSON, expiring after the session TTL
type Accounts struct {
	store      kv.Store
	ttl        time.Duration
	bcryptCost int
	listLimit  int
	now        func() time.Time
}

var _ Resolver = (*Accounts)(nil)

// AccountsOption configures Accounts.
type AccountsOption func(*Accounts)

// WithSessionTTL sets the lifetime of login tokens.
func WithSessionTTL(d time.Duration) AccountsOption {
	return func(a *Accounts) {
		if d > 0 {
			a.ttl = d
		}
	}
}

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) AccountsOption {
	return func(a *Accounts) { a.bcryptCost = cost }
}

// WithListLimit bounds the number of accounts ListUsers reads.
func WithListLimit(n int) AccountsOption {
	return func(a *Accounts) { a.listLimit = n }
}

// NewAccounts returns Accounts backed by store.
func NewAccounts(store kv.Store, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		store:      store,
		ttl:        DefaultSessionTTL,
		bcryptCost: bcrypt.DefaultCost,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func userKey(username string) string { return keys.Join("user", username) }
func emailKey(email string) string { return keys.Join("email", strings.ToLower(email)) }
func sessionKey(token string) string { return keys.Join("auth", token) }

// Register creates an account. The username and email must both be unused.
func (a *Accounts) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	var ve model.ValidationError
	if in.Username == "" {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "username", Message: "is required"})
	} else if strings.ContainsAny(in.Username, ":/ ") {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "username", Message: "must not contain spaces, ':' or '/'"})
	}
	if in.Email == "" {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "email", Message: "is required"})
	}
	if in.Password == "" {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "password", Message: "is required"})
	} else if len(in.Password) > maxPasswordBytes {
		ve.Errors = append(ve.Errors, model.FieldError{Field: "password", Message: fmt.Sprintf("must be at most %d bytes", maxPasswordBytes)})
	}
	if len(ve.Errors) > 0 {
		return nil, &ve
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), a.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	id, err := idgen.GenerateWithPrefix("usr_")
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	u := &model.User{
		ID:           id,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		ModelID:      strings.TrimSpace(in.ModelID),
		ProfileData:  in.ProfileData,
		CreatedAt:    a.now(),
	}
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encoding user: %w", err)
	}

	ok, err := a.store.PutNX(ctx, userKey(u.Username), data)
	if err != nil {
		return nil, fmt.Errorf("registering %s: %w", u.Username, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, u.Username)
	}
	ok, err = a.store.PutNX(ctx, emailKey(u.Email), []byte(u.Username))
	if err != nil || !ok {
		// Release the username so a retry with another email can succeed.
		if _, derr := a.store.Delete(ctx, userKey(u.Username)); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			return nil, fmt.Errorf("registering %s: %w", u.Username, err)
		}
		return nil, fmt.Errorf("%w: email %s", ErrUserExists, u.Email)
	}
	return u.Public(), nil
}

// Login checks the password and issues a new session token.
func (a *Accounts) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	u, err := a.user(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := idgen.GenerateN(idgen.TokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	data, err := json.Marshal(Identity{UserID: u.ID, Username: u.Username})
	if err != nil {
		return "", nil, fmt.Errorf("encoding session: %w", err)
	}
	if err := a.store.PutTTL(ctx, sessionKey(token), data, a.ttl); err != nil {
		return "", nil, fmt.Errorf("storing session: %w", err)
	}
	return token, u.Public(), nil
}

// Resolve implements Resolver.
func (a *Accounts) Resolve(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	data, err := a.store.Get(ctx, sessionKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("resolving session: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil || id.Username == "" {
		return nil, ErrUnauthenticated
	}
	return &id, nil
}

// Logout invalidates token. Unknown tokens are not an error.
func (a *Accounts) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := a.store.Delete(ctx, sessionKey(token)); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// Profile returns the account behind token.
func (a *Accounts) Profile(ctx context.Context, token string) (*model.User, error) {
	id, err := a.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := a.user(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	return u.Public(), nil
}

// UpdateLocation records the caller's own last known position.
func (a *Accounts) UpdateLocation(ctx context.Context, token string, lat, lng float64) (*model.User, error) {
	if err := model.ValidateCoordinates(lat, lng); err != nil {
		return nil, err
	}
	return a.modify(ctx, token, func(u *model.User) {
		u.LastLocation = &model.LastLocation{Lat: lat, Lng: lng, Timestamp: a.now()}
	})
}

// LinkModel attaches a 3D model ID to the caller's account.
func (a *Accounts) LinkModel(ctx context.Context, token, modelID string) (*model.User, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, &model.ValidationError{Errors: []model.FieldError{{Field: "modelId", Message: "is required"}}}
	}
	return a.modify(ctx, token, func(u *model.User) { u.ModelID = modelID })
}

// ListUsers returns every account, sorted by username, without credentials.
func (a *Accounts) ListUsers(ctx context.Context) ([]*model.User, error) {
	var found []string
	for key, err := range a.store.Keys(ctx, keys.JoinPrefix("user"), a.listLimit) {
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		if len(keys.Split(key)) == 2 {
			found = append(found, key)
		}
	}
	entries, err := kv.MGetAll(ctx, a.store, found)
	if err != nil {
		return nil, fmt.Errorf("reading users: %w", err)
	}
	users := make([]*model.User, 0, len(entries))
	for _, e := range entries {
		if !e.Found {
			continue
		}
		var u model.User
		if err := json.Unmarshal(e.Value, &u); err != nil {
			continue
		}
		users = append(users, u.Public())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (a *Accounts) modify(ctx context.Context, token string, fn func(*model.User)) (*model.User, error) {
	id, err := a.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	u, err := a.user(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	fn(u)
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encoding user: %w", err)
	}
	if err := a.store.Put(ctx, userKey(u.Username), data); err != nil {
		return nil, fmt.Errorf("saving user %s: %w", u.Username, err)
	}
	return u.Public(), nil
}

func (a *Accounts) user(ctx context.Context, username string) (*model.User, error) {
	if username == "" {
		return nil, ErrUserNotFound
	}
	data, err := a.store.Get(ctx, userKey(username))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", username, err)
	}
	var u model.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", username, err)
	}
	return &u, nil
}
