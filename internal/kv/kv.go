// Package kv is the blob store client. A Store reads and writes opaque byte
// values by string key against a remote Redis-compatible service (RESTStore)
// or a local bbolt file (BoltStore).
package kv

import (
	"context"
	"errors"
	"iter"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist. It is a
	// normal result, not a store failure.
	ErrNotFound = errors.New("kv: key not found")

	// ErrUnavailable wraps every transport, auth and decode failure.
	// Callers may retry with backoff; the store never retries on its own.
	ErrUnavailable = errors.New("kv: store unavailable")

	// ErrWrongType is returned when a string operation hits a list key.
	ErrWrongType = errors.New("kv: wrong value type")
)

const (
	// DefaultListLimit bounds the number of keys a single Keys call yields
	// when the caller passes no limit.
	DefaultListLimit = 1000

	// PageSize is the number of keys requested per scan round trip.
	PageSize = 100

	// DefaultTimeout is applied to each remote call.
	DefaultTimeout = 5 * time.Second
)

// Entry is one result of MGet.
type Entry struct {
	Key   string
	Value []byte
	Found bool
}

// Store is the blob store client interface.
type Store interface {
	// Put overwrites the value at key.
	Put(ctx context.Context, key string, value []byte) error
	// PutTTL is Put with an expiry.
	PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// PutNX writes value only when key is absent and reports whether it did.
	PutNX(ctx context.Context, key string, value []byte) (bool, error)
	// Get returns ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete returns the number of keys removed (0 or 1).
	Delete(ctx context.Context, key string) (int, error)
	// Keys lazily yields keys starting with prefix, paging internally, and
	// stops after limit keys (DefaultListLimit when limit <= 0).
	Keys(ctx context.Context, prefix string, limit int) iter.Seq2[string, error]
	// MGet reads keys in one round trip. Results follow request order.
	MGet(ctx context.Context, keys []string) ([]Entry, error)
	// PushCapped prepends value to the list at key and trims it to keep items.
	PushCapped(ctx context.Context, key string, value []byte, keep int) error
	// Range returns up to n items from the head of the list at key.
	Range(ctx context.Context, key string, n int) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// CollectKeys drains a Keys sequence into a slice.
func CollectKeys(seq iter.Seq2[string, error]) ([]string, error) {
	var out []string
	for k, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// MGetAll reads keys in batches of PageSize so that a long listing never turns
// into one oversized request.
func MGetAll(ctx context.Context, s Store, keys []string) ([]Entry, error) {
	out := make([]Entry, 0, len(keys))
	for start := 0; start < len(keys); start += PageSize {
		end := min(start+PageSize, len(keys))
		batch, err := s.MGet(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}
