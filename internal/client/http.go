package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alfredjeanlab/mapstate/internal/model"
)

// HTTPClient implements StateClient using the mapstate HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	adminToken string
	httpClient *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithAdminToken sets the X-Admin-Token header used by the admin listing.
func WithAdminToken(tok string) Option {
	return func(c *HTTPClient) { c.adminToken = tok }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty it is sent as a
// bearer session token on every request.
func NewHTTPClient(baseURL, token string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

// --- Map states ---

// SaveState stores state and returns its new id.
func (c *HTTPClient) SaveState(ctx context.Context, state json.RawMessage) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	body := map[string]json.RawMessage{"state": state}
	if err := c.doJSON(ctx, http.MethodPost, "/api/state", body, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *HTTPClient) GetState(ctx context.Context, id string) (*State, error) {
	var st State
	if err := c.doJSON(ctx, http.MethodGet, "/api/state/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DeleteState removes a state. It reports false when there was nothing to delete.
func (c *HTTPClient) DeleteState(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, "/api/state/"+url.PathEscape(id), nil, &resp); err != nil {
		return false, err
	}
	return resp.Deleted, nil
}

// ListStates lists every anonymous state, newest first. It needs an admin token.
func (c *HTTPClient) ListStates(ctx context.Context) ([]*State, error) {
	var resp struct {
		States []*State `json:"states"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/state/list", nil, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

// --- User states ---

func (c *HTTPClient) SaveUserState(ctx context.Context, name string, state json.RawMessage) (*SavedUserState, error) {
	body := map[string]any{"name": name, "state": state}
	var saved SavedUserState
	if err := c.doJSON(ctx, http.MethodPost, "/api/user-states", body, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

func (c *HTTPClient) GetUserState(ctx context.Context, id string) (*UserState, error) {
	var st UserState
	if err := c.doJSON(ctx, http.MethodGet, "/api/user-states?id="+url.QueryEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) ListUserStates(ctx context.Context) ([]model.RecordSummary, error) {
	var resp struct {
		States []model.RecordSummary `json:"states"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/user-states", nil, &resp); err != nil {
		return nil, err
	}
	return resp.States, nil
}

func (c *HTTPClient) DeleteUserState(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/user-states?id="+url.QueryEscape(id), nil, nil)
}

// --- Accounts ---

// Login exchanges credentials for a session token. The client keeps using
// the token it was created with; pass the returned token to a new client.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	body := map[string]string{"action": "login", "username": username, "password": password}
	var resp LoginResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError is a non-2xx response. Message is the server's "error" field,
// or the raw body when there is none.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doJSON sends body (when non-nil) as JSON and decodes a successful
// response into result (when non-nil).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, result any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, data)
	}
	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.adminToken != "" {
		req.Header.Set("X-Admin-Token", c.adminToken)
	}
	return req, nil
}

func responseError(code int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return &APIError{StatusCode: code, Message: payload.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &APIError{StatusCode: code, Message: msg}
}
