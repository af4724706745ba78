package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backends accepted in MAPSTATE_KV_BACKEND.
const (
	BackendREST = "rest"
	BackendBolt = "bolt"
)

type Config struct {
	HTTPAddr string // MAPSTATE_HTTP_ADDR (default ":8080")
	GRPCAddr string // MAPSTATE_GRPC_ADDR (optional, empty = no gRPC health)

	KVBackend   string        // MAPSTATE_KV_BACKEND ("rest" or "bolt", default "rest")
	KVRESTURL   string        // MAPSTATE_KV_REST_URL, falls back to UPSTASH_REDIS_REST_URL
	KVRESTToken string        // MAPSTATE_KV_REST_TOKEN, falls back to UPSTASH_REDIS_REST_TOKEN
	KVBoltPath  string        // MAPSTATE_KV_BOLT_PATH (default "mapstate.db")
	KVTimeout   time.Duration // MAPSTATE_KV_TIMEOUT (default 5s)
	ListLimit   int           // MAPSTATE_LIST_LIMIT (default 1000)

	NATSURL       string // MAPSTATE_NATS_URL (optional, empty = events stay in-process)
	AdminToken    string // MAPSTATE_ADMIN_TOKEN, falls back to STATE_ADMIN_TOKEN
	PublicURL     string // MAPSTATE_PUBLIC_URL (optional)
	AllowedOrigin string // MAPSTATE_ALLOWED_ORIGIN (default "*")
	OTLPEndpoint  string // MAPSTATE_OTLP_ENDPOINT (optional)

	SessionTTL      time.Duration // MAPSTATE_SESSION_TTL (default 168h)
	LocationHistory int           // MAPSTATE_LOCATION_HISTORY (default 100)
	PresenceTimeout time.Duration // MAPSTATE_PRESENCE_TIMEOUT (default 5m; 0 = no departure events)

	// Sync settings
	SyncInterval   time.Duration // MAPSTATE_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // MAPSTATE_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // MAPSTATE_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // MAPSTATE_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // MAPSTATE_SYNC_S3_KEY (default "mapstate/backup.jsonl")
	SyncFile       string        // MAPSTATE_SYNC_FILE (enables a local export file when set)
	SyncGitRepo    string        // MAPSTATE_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // MAPSTATE_SYNC_GIT_FILE (default "mapstate.jsonl")
	SyncGitBranch  string        // MAPSTATE_SYNC_GIT_BRANCH (default "main")
}

// Load reads the configuration from the environment. When MAPSTATE_CONFIG
// names a TOML file, its keys (the variable names without the MAPSTATE_
// prefix, lowercased) supply values that the environment overrides.
func Load() (*Config, error) {
	file, err := readFile(os.Getenv("MAPSTATE_CONFIG"))
	if err != nil {
		return nil, err
	}
	get := func(key, fallback string) string {
		return envOrDefault(key, file.value(key, fallback))
	}

	c := &Config{
		HTTPAddr:       get("MAPSTATE_HTTP_ADDR", ":8080"),
		GRPCAddr:       get("MAPSTATE_GRPC_ADDR", ""),
		KVBackend:      strings.ToLower(get("MAPSTATE_KV_BACKEND", BackendREST)),
		KVRESTURL:      get("MAPSTATE_KV_REST_URL", os.Getenv("UPSTASH_REDIS_REST_URL")),
		KVRESTToken:    get("MAPSTATE_KV_REST_TOKEN", os.Getenv("UPSTASH_REDIS_REST_TOKEN")),
		KVBoltPath:     get("MAPSTATE_KV_BOLT_PATH", "mapstate.db"),
		NATSURL:        get("MAPSTATE_NATS_URL", ""),
		AdminToken:     get("MAPSTATE_ADMIN_TOKEN", os.Getenv("STATE_ADMIN_TOKEN")),
		PublicURL:      strings.TrimRight(get("MAPSTATE_PUBLIC_URL", ""), "/"),
		AllowedOrigin:  get("MAPSTATE_ALLOWED_ORIGIN", "*"),
		OTLPEndpoint:   get("MAPSTATE_OTLP_ENDPOINT", ""),
		SyncS3Bucket:   get("MAPSTATE_SYNC_S3_BUCKET", ""),
		SyncS3Endpoint: get("MAPSTATE_SYNC_S3_ENDPOINT", ""),
		SyncS3Region:   get("MAPSTATE_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      get("MAPSTATE_SYNC_S3_KEY", "mapstate/backup.jsonl"),
		SyncFile:       get("MAPSTATE_SYNC_FILE", ""),
		SyncGitRepo:    get("MAPSTATE_SYNC_GIT_REPO", ""),
		SyncGitFile:    get("MAPSTATE_SYNC_GIT_FILE", "mapstate.jsonl"),
		SyncGitBranch:  get("MAPSTATE_SYNC_GIT_BRANCH", "main"),
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"MAPSTATE_KV_TIMEOUT", "5s", &c.KVTimeout},
		{"MAPSTATE_SESSION_TTL", "168h", &c.SessionTTL},
		{"MAPSTATE_PRESENCE_TIMEOUT", "5m", &c.PresenceTimeout},
		{"MAPSTATE_SYNC_INTERVAL", "0", &c.SyncInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(get(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}

	ints := []struct {
		key      string
		fallback string
		dst      *int
	}{
		{"MAPSTATE_LIST_LIMIT", "1000", &c.ListLimit},
		{"MAPSTATE_LOCATION_HISTORY", "100", &c.LocationHistory},
	}
	for _, n := range ints {
		v, err := strconv.Atoi(get(n.key, n.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", n.key, err)
		}
		if v < 1 {
			return nil, fmt.Errorf("%s: must be at least 1", n.key)
		}
		*n.dst = v
	}

	switch c.KVBackend {
	case BackendREST:
		if c.KVRESTURL == "" || c.KVRESTToken == "" {
			return nil, errors.New("MAPSTATE_KV_REST_URL and MAPSTATE_KV_REST_TOKEN are required for the rest backend")
		}
		u, err := NormalizeRESTURL(c.KVRESTURL)
		if err != nil {
			return nil, fmt.Errorf("MAPSTATE_KV_REST_URL: %w", err)
		}
		c.KVRESTURL = u
	case BackendBolt:
		if c.KVBoltPath == "" {
			return nil, errors.New("MAPSTATE_KV_BOLT_PATH is required for the bolt backend")
		}
	default:
		return nil, fmt.Errorf("MAPSTATE_KV_BACKEND: unknown backend %q (want %q or %q)", c.KVBackend, BackendREST, BackendBolt)
	}

	return c, nil
}

// NormalizeRESTURL turns the forms a KV endpoint is commonly pasted in
// (an https URL, a redis:// connection string or a whole
// "redis-cli --tls -u redis://..." command line) into the https REST base
// URL. Plain http is accepted only for loopback hosts.
func NormalizeRESTURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "redis-cli") {
		fields := strings.Fields(s)
		s = ""
		for i := 0; i < len(fields)-1; i++ {
			if fields[i] == "-u" {
				s = fields[i+1]
				break
			}
		}
		if s == "" {
			return "", fmt.Errorf("no -u connection string in %q", raw)
		}
	}

	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return "", invalidURL(raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "redis", "rediss":
		return "https://" + u.Hostname(), nil
	case "https":
		return strings.TrimRight(s, "/"), nil
	case "http":
		if isLoopback(u.Hostname()) {
			return strings.TrimRight(s, "/"), nil
		}
	}
	return "", invalidURL(raw)
}

func invalidURL(raw string) error {
	return fmt.Errorf("expected an https URL like https://<id>.upstash.io, or a redis:// connection string; got %q", raw)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// fileValues holds the keys of the optional TOML config file.
type fileValues map[string]any

func readFile(path string) (fileValues, error) {
	if path == "" {
		return nil, nil
	}
	var values fileValues
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return values, nil
}

// value returns the file entry for the environment variable key, or fallback.
func (f fileValues) value(key, fallback string) string {
	v, ok := f[strings.ToLower(strings.TrimPrefix(key, "MAPSTATE_"))]
	if !ok {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
