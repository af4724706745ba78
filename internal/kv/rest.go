package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/alfredjeanlab/mapstate/internal/kv"

// maxReplyBytes caps how much of a single reply is read into memory.
const maxReplyBytes = 64 << 20

// RESTConfig configures a RESTStore.
type RESTConfig struct {
	URL        string        // REST endpoint, e.g. https://eu1-fine-cat-12345.upstash.io
	Token      string        // bearer token
	Timeout    time.Duration // per call; DefaultTimeout when zero
	HTTPClient *http.Client  // optional
}

// RESTStore talks to a Redis-compatible KV service over its REST API
// (Upstash wire format). Every command is one POST of a JSON array such as
// ["SET","k","v"]; the reply is {"result":...} or {"error":"..."}.
type RESTStore struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ Store = (*RESTStore)(nil)

// NewRESTStore returns a store for the given endpoint. It does not contact
// the service; call Ping to verify connectivity.
func NewRESTStore(cfg RESTConfig) (*RESTStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("kv: REST URL is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("kv: REST token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &RESTStore{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		timeout:    cfg.Timeout,
		httpClient: hc,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

func (s *RESTStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.do(ctx, "SET", key, string(value))
	return err
}

func (s *RESTStore) PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return s.Put(ctx, key, value)
	}
	ms := max(ttl.Milliseconds(), 1)
	_, err := s.do(ctx, "SET", key, string(value), "PX", strconv.FormatInt(ms, 10))
	return err
}

func (s *RESTStore) PutNX(ctx context.Context, key string, value []byte) (bool, error) {
	raw, err := s.do(ctx, "SET", key, string(value), "NX")
	if err != nil {
		return false, err
	}
	return !isNull(raw), nil
}

func (s *RESTStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: decoding GET reply: %v", ErrUnavailable, err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return []byte(*v), nil
}

func (s *RESTStore) Delete(ctx context.Context, key string) (int, error) {
	raw, err := s.do(ctx, "DEL", key)
	if err != nil {
		return 0, err
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%w: decoding DEL reply: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Keys pages through SCAN with a MATCH on the escaped prefix. SCAN may repeat
// a key across pages, so yielded keys are de-duplicated.
func (s *RESTStore) Keys(ctx context.Context, prefix string, limit int) iter.Seq2[string, error] {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	pattern := globEscape(prefix) + "*"
	return func(yield func(string, error) bool) {
		seen := make(map[string]struct{})
		cursor := "0"
		for {
			raw, err := s.do(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", strconv.Itoa(PageSize))
			if err != nil {
				yield("", err)
				return
			}
			next, batch, err := decodeScan(raw)
			if err != nil {
				yield("", err)
				return
			}
			for _, k := range batch {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				if !yield(k, nil) || len(seen) >= limit {
					return
				}
			}
			if next == "0" {
				return
			}
			cursor = next
		}
	}
}

func (s *RESTStore) MGet(ctx context.Context, keys []string) ([]Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.do(ctx, append([]string{"MGET"}, keys...)...)
	if err != nil {
		return nil, err
	}
	var vals []*string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("%w: decoding MGET reply: %v", ErrUnavailable, err)
	}
	if len(vals) != len(keys) {
		return nil, fmt.Errorf("%w: MGET returned %d values for %d keys", ErrUnavailable, len(vals), len(keys))
	}
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Key: k}
		if vals[i] != nil {
			out[i].Value = []byte(*vals[i])
			out[i].Found = true
		}
	}
	return out, nil
}

func (s *RESTStore) PushCapped(ctx context.Context, key string, value []byte, keep int) error {
	if keep <= 0 {
		_, err := s.do(ctx, "LPUSH", key, string(value))
		return err
	}
	_, err := s.pipeline(ctx,
		[]string{"LPUSH", key, string(value)},
		[]string{"LTRIM", key, "0", strconv.Itoa(keep - 1)},
	)
	return err
}

func (s *RESTStore) Range(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := s.do(ctx, "LRANGE", key, "0", strconv.Itoa(n-1))
	if err != nil {
		return nil, err
	}
	var vals []string
	if err := json.Unmarshal(raw, &vals); err != nil {
		return nil, fmt.Errorf("%w: decoding LRANGE reply: %v", ErrUnavailable, err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *RESTStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, "PING")
	return err
}

func (s *RESTStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

type restReply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// do runs a single command.
func (s *RESTStore) do(ctx context.Context, cmd ...string) (json.RawMessage, error) {
	var reply restReply
	if err := s.post(ctx, cmd[0], "", cmd, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, commandError(cmd[0], reply.Error)
	}
	return reply.Result, nil
}

// pipeline runs several commands in one round trip via /pipeline.
func (s *RESTStore) pipeline(ctx context.Context, cmds ...[]string) ([]json.RawMessage, error) {
	var replies []restReply
	if err := s.post(ctx, "PIPELINE", "/pipeline", cmds, &replies); err != nil {
		return nil, err
	}
	if len(replies) != len(cmds) {
		return nil, fmt.Errorf("%w: pipeline returned %d replies for %d commands", ErrUnavailable, len(replies), len(cmds))
	}
	out := make([]json.RawMessage, len(replies))
	for i, r := range replies {
		if r.Error != "" {
			return nil, commandError(cmds[i][0], r.Error)
		}
		out[i] = r.Result
	}
	return out, nil
}

func (s *RESTStore) post(ctx context.Context, op, path string, body, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "kv."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", op),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kv: encoding %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: creating request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("%w: reading %s reply: %v", ErrUnavailable, op, err)
	}

	if resp.StatusCode >= 400 {
		var reply restReply
		if json.Unmarshal(respBody, &reply) == nil && reply.Error != "" {
			return commandError(op, reply.Error)
		}
		return fmt.Errorf("%w: %s: HTTP %d", ErrUnavailable, op, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decoding %s reply: %v", ErrUnavailable, op, err)
	}
	return nil
}

func commandError(op, msg string) error {
	if strings.HasPrefix(msg, "WRONGTYPE") {
		return fmt.Errorf("%w: %s: %s", ErrWrongType, op, msg)
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, op, msg)
}

// decodeScan splits a SCAN reply into the next cursor and the key batch.
// The cursor arrives as a string from Upstash and as a number from some
// compatible services.
func decodeScan(raw json.RawMessage) (string, []string, error) {
	var page []json.RawMessage
	if err := json.Unmarshal(raw, &page); err != nil || len(page) != 2 {
		return "", nil, fmt.Errorf("%w: malformed SCAN reply", ErrUnavailable)
	}
	var cursor string
	if err := json.Unmarshal(page[0], &cursor); err != nil {
		var n json.Number
		if err := json.Unmarshal(page[0], &n); err != nil {
			return "", nil, fmt.Errorf("%w: malformed SCAN cursor", ErrUnavailable)
		}
		cursor = n.String()
	}
	var batch []string
	if err := json.Unmarshal(page[1], &batch); err != nil {
		return "", nil, fmt.Errorf("%w: malformed SCAN keys", ErrUnavailable)
	}
	return cursor, batch, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// globEscape escapes the pattern metacharacters understood by SCAN MATCH.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
