package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/server"
)

// testHandler captures the incoming request details and returns a canned response.
type testHandler struct {
	// captured from the request
	method      string
	path        string
	query       string
	body        string
	contentType string
	auth        string
	admin       string

	// canned response
	statusCode   int
	responseBody string
}

func (h *testHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.method = r.Method
	h.path = r.URL.Path
	h.query = r.URL.RawQuery
	h.contentType = r.Header.Get("Content-Type")
	h.auth = r.Header.Get("Authorization")
	h.admin = r.Header.Get("X-Admin-Token")
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		h.body = string(data)
	}

	w.Header().Set("Content-Type", "application/json")
	if h.statusCode != 0 {
		w.WriteHeader(h.statusCode)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if h.responseBody != "" {
		_, _ = w.Write([]byte(h.responseBody))
	}
}

// newTestClient creates an HTTPClient pointed at a test server with the given handler.
func newTestClient(t *testing.T, h http.Handler, token string, opts ...Option) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPClient(srv.URL+"/", token, opts...)
}

func TestHTTPClient_SaveState(t *testing.T) {
	h := &testHandler{statusCode: http.StatusCreated, responseBody: `{"id":"abc123"}`}
	c := newTestClient(t, h, "")

	id, err := c.SaveState(context.Background(), json.RawMessage(`{"zoom":3}`))
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if id != "abc123" {
		t.Errorf("id = %q, want abc123", id)
	}
	if h.method != http.MethodPost || h.path != "/api/state" {
		t.Errorf("request = %s %s", h.method, h.path)
	}
	if h.body != `{"state":{"zoom":3}}` {
		t.Errorf("body = %s", h.body)
	}
	if h.contentType != "application/json" {
		t.Errorf("Content-Type = %q", h.contentType)
	}
	if h.auth != "" {
		t.Errorf("anonymous client sent Authorization %q", h.auth)
	}
}

func TestHTTPClient_GetState_EscapesID(t *testing.T) {
	h := &testHandler{responseBody: `{"id":"a/b","state":{"x":1},"createdAt":"2026-04-02T08:00:00Z"}`}
	c := newTestClient(t, h, "tok")

	st, err := c.GetState(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if st.ID != "a/b" || string(st.State) != `{"x":1}` || st.CreatedAt == nil {
		t.Errorf("state = %+v", st)
	}
	if h.path != "/api/state/a/b" {
		t.Errorf("path = %q", h.path)
	}
	if h.auth != "Bearer tok" {
		t.Errorf("Authorization = %q", h.auth)
	}
}

func TestHTTPClient_ListStates_SendsAdminToken(t *testing.T) {
	h := &testHandler{responseBody: `{"states":[{"id":"s2","state":{}},{"id":"s1","state":{}}]}`}
	c := newTestClient(t, h, "", WithAdminToken("root"))

	states, err := c.ListStates(context.Background())
	if err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	if len(states) != 2 || states[0].ID != "s2" {
		t.Errorf("states = %+v", states)
	}
	if h.admin != "root" {
		t.Errorf("X-Admin-Token = %q", h.admin)
	}
}

func TestHTTPClient_UserStates(t *testing.T) {
	h := &testHandler{responseBody: `{"success":true,"states":[{"id":"u1","name":"Trip","createdAt":"2026-04-02T08:00:00Z"}]}`}
	c := newTestClient(t, h, "tok")

	list, err := c.ListUserStates(context.Background())
	if err != nil {
		t.Fatalf("ListUserStates: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Trip" {
		t.Errorf("list = %+v", list)
	}

	if err := c.DeleteUserState(context.Background(), "u 1"); err != nil {
		t.Fatalf("DeleteUserState: %v", err)
	}
	if h.method != http.MethodDelete || h.query != "id=u+1" {
		t.Errorf("delete request = %s ?%s", h.method, h.query)
	}
}

func TestHTTPClient_Errors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		status   int
		body     string
		wantCode int
		wantMsg  string
	}{
		{"JSONError", http.StatusNotFound, `{"error":"state not found"}`, 404, "state not found"},
		{"FailureEnvelope", http.StatusUnauthorized, `{"success":false,"error":"authentication required"}`, 401, "authentication required"},
		{"PlainText", http.StatusBadGateway, "bad gateway\n", 502, "bad gateway"},
		{"EmptyBody", http.StatusServiceUnavailable, "", 503, "Service Unavailable"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := &testHandler{statusCode: tc.status, responseBody: tc.body}
			c := newTestClient(t, h, "")

			_, err := c.GetState(context.Background(), "x")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tc.wantCode || apiErr.Message != tc.wantMsg {
				t.Errorf("APIError = %d %q, want %d %q", apiErr.StatusCode, apiErr.Message, tc.wantCode, tc.wantMsg)
			}
		})
	}
}

func TestHTTPClient_BadJSONResponse(t *testing.T) {
	h := &testHandler{responseBody: `not json`}
	c := newTestClient(t, h, "")
	if _, err := c.Health(context.Background()); err == nil || !strings.Contains(err.Error(), "decoding response") {
		t.Fatalf("Health error = %v", err)
	}
}

func TestHTTPClient_ContextCanceled(t *testing.T) {
	c := newTestClient(t, &testHandler{}, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Health(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Health error = %v, want context.Canceled", err)
	}
}

// TestHTTPClient_AgainstServer drives the real HTTP API end to end.
func TestHTTPClient_AgainstServer(t *testing.T) {
	store, err := kv.NewBoltStore(kv.BoltConfig{Path: filepath.Join(t.TempDir(), "kv.db"), NoSync: true})
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv := server.New(store, &events.NoopPublisher{}, server.Options{AdminToken: "root", PublicURL: "https://maps.example"})
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.NewHTTPHandler())
	t.Cleanup(ts.Close)
	ctx := context.Background()

	anon := NewHTTPClient(ts.URL, "", WithAdminToken("root"))
	if status, err := anon.Health(ctx); err != nil || status != "ok" {
		t.Fatalf("Health = %q, %v", status, err)
	}
	id, err := anon.SaveState(ctx, json.RawMessage(`{"layers":["a"]}`))
	if err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	got, err := anon.GetState(ctx, id)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if string(got.State) != `{"layers":["a"]}` {
		t.Errorf("state = %s", got.State)
	}
	all, err := anon.ListStates(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListStates = %v, %v", all, err)
	}
	if deleted, err := anon.DeleteState(ctx, id); err != nil || !deleted {
		t.Fatalf("DeleteState = %v, %v", deleted, err)
	}
	if _, err := anon.GetState(ctx, id); !IsNotFound(err) {
		t.Fatalf("GetState after delete = %v", err)
	}

	reg := map[string]string{"action": "register", "username": "ann", "email": "ann@example.com", "password": "hunter22"}
	if err := anon.doJSON(ctx, http.MethodPost, "/api/auth", reg, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	login, err := anon.Login(ctx, "ann", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.SessionToken == "" || login.Username != "ann" {
		t.Fatalf("login = %+v", login)
	}

	user := NewHTTPClient(ts.URL, login.SessionToken)
	saved, err := user.SaveUserState(ctx, "Trip", json.RawMessage(`{"zoom":9}`))
	if err != nil {
		t.Fatalf("SaveUserState: %v", err)
	}
	if !strings.HasPrefix(saved.ShareURL, "https://maps.example/?user_state_id=") {
		t.Errorf("shareUrl = %q", saved.ShareURL)
	}
	one, err := user.GetUserState(ctx, saved.ID)
	if err != nil || one.Name != "Trip" || string(one.State) != `{"zoom":9}` {
		t.Fatalf("GetUserState = %+v, %v", one, err)
	}
	mine, err := user.ListUserStates(ctx)
	if err != nil || len(mine) != 1 || mine[0].ID != saved.ID {
		t.Fatalf("ListUserStates = %+v, %v", mine, err)
	}
	if err := user.DeleteUserState(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteUserState: %v", err)
	}
	if err := user.DeleteUserState(ctx, saved.ID); !IsNotFound(err) {
		t.Fatalf("second DeleteUserState = %v", err)
	}

	var apiErr *APIError
	if _, err := anon.ListUserStates(ctx); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous ListUserStates = %v", err)
	}
}

func TestHTTPClient_ImplementsStateClient(t *testing.T) {
	var _ StateClient = (*HTTPClient)(nil)
}
