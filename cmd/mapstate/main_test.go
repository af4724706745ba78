package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alfredjeanlab/mapstate/internal/config"
	"github.com/alfredjeanlab/mapstate/internal/events"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag of cmd and its subcommands to its default,
// since cobra keeps flag values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// runCLI executes the root command with args and returns stdout and stderr.
func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func startTestServer(t *testing.T) string {
	t.Helper()
	store, err := kv.NewBoltStore(kv.BoltConfig{Path: filepath.Join(t.TempDir(), "kv.db"), NoSync: true})
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv := server.New(store, &events.NoopPublisher{}, server.Options{AdminToken: "root"})
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.NewHTTPHandler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestCLI_StateLifecycle(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	url := startTestServer(t)

	out, _, err := runCLI(t, `{"center":[13.4,52.5]}`, "--url", url, "save", "-")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("save printed no id")
	}

	out, _, err = runCLI(t, "", "--url", url, "get", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, `"center": [`) {
		t.Errorf("get output = %q, want pretty-printed state", out)
	}

	out, _, err = runCLI(t, "", "--url", url, "--admin-token", "root", "--json", "list", "--all")
	if err != nil {
		t.Fatalf("list --all: %v", err)
	}
	var listed []map[string]any
	if err := json.Unmarshal([]byte(out), &listed); err != nil || len(listed) != 1 || listed[0]["id"] != id {
		t.Errorf("list --all = %q (%v)", out, err)
	}

	out, _, err = runCLI(t, "", "--url", url, "rm", id)
	if err != nil || !strings.Contains(out, "Deleted "+id) {
		t.Fatalf("rm = %q, %v", out, err)
	}
	out, _, err = runCLI(t, "", "--url", url, "rm", id)
	if err != nil || !strings.Contains(out, "No state "+id) {
		t.Fatalf("second rm = %q, %v", out, err)
	}

	_, errOut, err := runCLI(t, "", "--url", url, "get", id)
	if err == nil || !strings.Contains(errOut, "no state "+id) || !strings.Contains(errOut, "HTTP 404") {
		t.Errorf("get after rm: err=%v stderr=%q", err, errOut)
	}
}

func TestCLI_NamedStates(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	url := startTestServer(t)

	if _, _, err := runCLI(t, "", "--url", url, "list"); err == nil {
		t.Fatal("list without a token should fail")
	}

	reg := `{"action":"register","username":"ann","email":"ann@example.com","password":"hunter22"}`
	resp, err := http.Post(url+"/api/auth", "application/json", strings.NewReader(reg))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}

	tok, _, err := runCLI(t, "hunter22\n", "--url", url, "login", "ann")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	tok = strings.TrimSpace(tok)

	out, _, err := runCLI(t, `{"zoom":4}`, "--url", url, "--token", tok, "--json", "save", "--name", "Road trip")
	if err != nil {
		t.Fatalf("save --name: %v", err)
	}
	var saved struct {
		ID       string `json:"id"`
		ShareURL string `json:"shareUrl"`
	}
	if err := json.Unmarshal([]byte(out), &saved); err != nil || saved.ID == "" || saved.ShareURL == "" {
		t.Fatalf("save --name output = %q (%v)", out, err)
	}

	out, _, err = runCLI(t, "", "--url", url, "--token", tok, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Road trip") || !strings.Contains(out, "1 states") {
		t.Errorf("list output = %q", out)
	}

	out, _, err = runCLI(t, "", "--url", url, "--token", tok, "get", "--mine", saved.ID)
	if err != nil || !strings.Contains(out, `"zoom": 4`) {
		t.Fatalf("get --mine = %q, %v", out, err)
	}

	if _, _, err := runCLI(t, "", "--url", url, "--token", tok, "rm", "--mine", saved.ID); err != nil {
		t.Fatalf("rm --mine: %v", err)
	}
	if _, _, err := runCLI(t, "", "--url", url, "--token", tok, "get", "--mine", saved.ID); err == nil {
		t.Fatal("get --mine after rm should fail")
	}
}

func TestCLI_Health(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	url := startTestServer(t)

	out, _, err := runCLI(t, "", "--url", url, "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !strings.HasPrefix(out, url+" ok ") {
		t.Errorf("health output = %q", out)
	}

	out, _, err = runCLI(t, "", "--url", url, "--json", "health")
	if err != nil {
		t.Fatalf("health --json: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if got["status"] != "ok" || got["url"] != url {
		t.Errorf("health --json = %v", got)
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte("  {\"a\":1}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		stdin   string
		path    string
		want    string
		wantErr string
	}{
		{name: "stdin", stdin: `[1,2]`, path: "-", want: `[1,2]`},
		{name: "file", path: good, want: `{"a":1}`},
		{name: "empty", stdin: "  \n", path: "-", wantErr: "empty"},
		{name: "invalid", stdin: `{"a":`, path: "-", wantErr: "not valid JSON"},
		{name: "missing file", path: filepath.Join(dir, "nope.json"), wantErr: "reading state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readDocument(strings.NewReader(tt.stdin), tt.path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("readDocument error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("readDocument: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("readDocument = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestColorizeHelpOutput_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)
	colorizedHelpFunc()(rootCmd, nil)

	help := buf.String()
	if strings.Contains(help, "\x1b[") {
		t.Errorf("help contains ANSI codes with NO_COLOR set:\n%s", help)
	}
	for _, want := range []string{"Map states:", "System:", "serve", "--url string"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestHelpRules_Match(t *testing.T) {
	tests := []struct {
		rule  int
		input string
		want  string
	}{
		{0, "Map states:\n", "Map states:"},
		{1, "  save        Save a map state", "  save        "},
		{2, "      --url string   server base URL", "--url string"},
		{3, `server base URL (default "http://localhost:8080")`, `(default "http://localhost:8080")`},
	}
	for _, tt := range tests {
		if got := helpRules[tt.rule].re.FindString(tt.input); got != tt.want {
			t.Errorf("rule %d on %q matched %q, want %q", tt.rule, tt.input, got, tt.want)
		}
	}
}

func TestOpenStore_Bolt(t *testing.T) {
	cfg := &config.Config{KVBackend: config.BackendBolt, KVBoltPath: filepath.Join(t.TempDir(), "kv.db")}
	store, err := openStore(cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	if _, err := openStore(&config.Config{KVBackend: "memcache"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBuildDestinations(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	none := buildDestinations(context.Background(), &config.Config{}, logger)
	if len(none) != 0 {
		t.Errorf("got %d destinations for empty config", len(none))
	}

	cfg := &config.Config{
		SyncS3Bucket:   "backups",
		SyncS3Region:   "us-east-1",
		SyncS3Endpoint: "http://127.0.0.1:9000",
		SyncFile:       filepath.Join(t.TempDir(), "backup.jsonl"),
		SyncGitRepo:    t.TempDir(),
		SyncGitFile:    "mapstate.jsonl",
		SyncGitBranch:  "main",
	}
	dests := buildDestinations(context.Background(), cfg, logger)
	if len(dests) != 3 {
		t.Fatalf("got %d destinations, want 3", len(dests))
	}
}

func TestExport_Bolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	store, err := kv.NewBoltStore(kv.BoltConfig{Path: path, NoSync: true})
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	if err := store.Put(context.Background(), "state:abc", []byte(`{"zoom":1}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	store.Close()

	t.Setenv("MAPSTATE_CONFIG", "")
	t.Setenv("MAPSTATE_KV_BACKEND", "bolt")
	t.Setenv("MAPSTATE_KV_BOLT_PATH", path)
	outFile := filepath.Join(t.TempDir(), "out.jsonl")

	if _, _, err := runCLI(t, "", "export", "-o", outFile); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], `"key":"state:abc"`) {
		t.Errorf("export output:\n%s", data)
	}
}
