// Package state saves, fetches, lists and removes arbitrary JSON documents in
// the KV store under generated short IDs, optionally partitioned by owner.
//
// Owner scoping is enforced only by key construction: a record saved for
// one owner lives under a key no other owner's lookup can produce.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/idgen"
	"github.com/alfredjeanlab/mapstate/internal/keys"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// Namespaces used by the server.
const (
	Namespace        = "state"
	SessionNamespace = "session"
)

var (
	// ErrInvalidPayload is returned when a payload is not a JSON document.
	ErrInvalidPayload = errors.New("state: invalid payload")
	// ErrNotFound is returned when no record exists in the caller's partition.
	ErrNotFound = errors.New("state: record not found")
)

// Service stores records in one namespace.
type Service struct {
	store     kv.Store
	namespace string
	newID     func() (string, error)
	now       func() time.Time
	listLimit int
}

// Option configures a Service.
type Option func(*Service)

// WithIDFunc replaces the ID generator.
func WithIDFunc(f func() (string, error)) Option {
	return func(s *Service) { s.newID = f }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithListLimit bounds the number of records List returns.
func WithListLimit(n int) Option {
	return func(s *Service) { s.listLimit = n }
}

// New returns a Service for namespace backed by store.
func New(store kv.Store, namespace string, opts ...Option) *Service {
	s := &Service{
		store:     store,
		namespace: namespace,
		newID:     idgen.Generate,
		now:       func() time.Time { return time.Now().UTC() },
		listLimit: kv.DefaultListLimit,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Namespace returns the namespace the service writes to.
func (s *Service) Namespace() string { return s.namespace }

// Save stores payload under a new ID and returns the ID.
func (s *Service) Save(ctx context.Context, ownerID string, payload json.RawMessage) (string, error) {
	return s.SaveNamed(ctx, ownerID, "", payload)
}

// SaveNamed is Save with a display name kept alongside the payload.
func (s *Service) SaveNamed(ctx context.Context, ownerID, name string, payload json.RawMessage) (string, error) {
	payload, err := normalize(payload)
	if err != nil {
		return "", err
	}
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generating id: %w", err)
	}
	now := s.now()
	rec := &model.Record{
		ID:        id,
		OwnerID:   ownerID,
		Name:      name,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.put(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// Replace overwrites the payload of id, creating the record if it does not
// exist. The original creation time and name are kept.
func (s *Service) Replace(ctx context.Context, ownerID, id string, payload json.RawMessage) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPayload)
	}
	payload, err := normalize(payload)
	if err != nil {
		return err
	}
	now := s.now()
	rec := &model.Record{ID: id, OwnerID: ownerID, CreatedAt: now}
	if prev, err := s.Fetch(ctx, ownerID, id); err == nil {
		rec.Name = prev.Name
		rec.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	rec.Payload = payload
	rec.UpdatedAt = now
	return s.put(ctx, rec)
}

// Fetch returns the record id in ownerID's partition.
func (s *Service) Fetch(ctx context.Context, ownerID, id string) (*model.Record, error) {
	data, err := s.store.Get(ctx, keys.Build(s.namespace, ownerID, id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", id, err)
	}
	return decodeRecord(id, ownerID, data), nil
}

// List returns every record in ownerID's partition, newest first. Keys that
// vanish between listing and reading are skipped.
func (s *Service) List(ctx context.Context, ownerID string) ([]*model.Record, error) {
	var ids, storeKeys []string
	for key, err := range s.store.Keys(ctx, keys.Prefix(s.namespace, ownerID), s.listLimit) {
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", s.namespace, err)
		}
		id, ok := keys.Parse(s.namespace, ownerID, key)
		if !ok {
			continue
		}
		ids = append(ids, id)
		storeKeys = append(storeKeys, key)
	}

	entries, err := kv.MGetAll(ctx, s.store, storeKeys)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.namespace, err)
	}

	recs := make([]*model.Record, 0, len(entries))
	for i, e := range entries {
		if !e.Found {
			continue
		}
		recs = append(recs, decodeRecord(ids[i], ownerID, e.Value))
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	return recs, nil
}

// Remove deletes id from ownerID's partition and reports whether it existed.
func (s *Service) Remove(ctx context.Context, ownerID, id string) (bool, error) {
	n, err := s.store.Delete(ctx, keys.Build(s.namespace, ownerID, id))
	if err != nil {
		return false, fmt.Errorf("removing %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Service) put(ctx context.Context, rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.store.Put(ctx, keys.Build(s.namespace, rec.OwnerID, rec.ID), data); err != nil {
		return fmt.Errorf("saving %s: %w", rec.ID, err)
	}
	return nil
}

// normalize rejects anything that is not a single non-null JSON value and
// compacts what remains.
func normalize(payload json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrInvalidPayload)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return buf.Bytes(), nil
}

// envelope is used to tell a stored Record apart from a bare payload written
// by older deployments.
type envelope struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

func decodeRecord(id, ownerID string, data []byte) *model.Record {
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.ID == id && env.Payload != nil {
		var rec model.Record
		if json.Unmarshal(data, &rec) == nil {
			return &rec
		}
	}
	rec := &model.Record{ID: id, OwnerID: ownerID}
	if json.Valid(data) {
		rec.Payload = json.RawMessage(data)
	} else {
		quoted, _ := json.Marshal(string(data))
		rec.Payload = quoted
	}
	return rec
}
