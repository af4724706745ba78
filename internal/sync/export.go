package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/keys"
	"github.com/alfredjeanlab/mapstate/internal/kv"
)

// DefaultNamespaces are the key namespaces a backup covers. Login sessions
// ("auth") are short-lived and left out.
var DefaultNamespaces = []string{"state", "user_state", "session", "employee", "user", "email"}

const (
	// exportKeyLimit bounds the keys read per namespace.
	exportKeyLimit = 1_000_000
	// exportListItems bounds the items read from one list value.
	exportListItems = 10_000
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Namespaces  []string  `json:"namespaces"`
	RecordCount int       `json:"record_count"`
}

// record is one exported key. Value holds the stored bytes as JSON when
// they parse, and as a JSON string otherwise; lists hold an array of those.
type record struct {
	Type  string          `json:"type"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// ExportJSONL writes every key under namespaces as JSONL to w: a header
// line, then one line per key sorted by key.
func ExportJSONL(ctx context.Context, s kv.Store, namespaces []string, w io.Writer) error {
	if len(namespaces) == 0 {
		namespaces = DefaultNamespaces
	}

	var all []string
	for _, ns := range namespaces {
		found, err := kv.CollectKeys(s.Keys(ctx, keys.JoinPrefix(ns), exportKeyLimit))
		if err != nil {
			return fmt.Errorf("list %s keys: %w", ns, err)
		}
		all = append(all, found...)
	}
	slices.Sort(all)
	all = slices.Compact(all)

	entries, err := kv.MGetAll(ctx, s, all)
	if err != nil {
		return fmt.Errorf("read values: %w", err)
	}

	recs := make([]record, 0, len(entries))
	for _, e := range entries {
		if e.Found {
			recs = append(recs, record{Type: "record", Key: e.Key, Value: asJSON(e.Value)})
			continue
		}
		// MGET skips lists; anything else missing was deleted meanwhile.
		items, err := s.Range(ctx, e.Key, exportListItems)
		if err != nil || len(items) == 0 {
			continue
		}
		vals := make([]json.RawMessage, len(items))
		for i, it := range items {
			vals[i] = asJSON(it)
		}
		data, err := json.Marshal(vals)
		if err != nil {
			return fmt.Errorf("encode list %s: %w", e.Key, err)
		}
		recs = append(recs, record{Type: "list", Key: e.Key, Value: data})
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:     "1",
		Type:        "header",
		Timestamp:   time.Now().UTC(),
		Namespaces:  namespaces,
		RecordCount: len(recs),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s: %w", r.Key, err)
		}
	}
	return nil
}

func asJSON(b []byte) json.RawMessage {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
