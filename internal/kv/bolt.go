package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// BoltConfig configures the bbolt-backed store.
type BoltConfig struct {
	Path    string
	NoSync  bool
	Timeout time.Duration // file lock wait; 1s when zero
}

// BoltStore keeps every key in a single bbolt bucket. Expiring keys are
// dropped lazily when read.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

var _ Store = (*BoltStore)(nil)

// boltValue is the on-disk envelope for one key.
type boltValue struct {
	Value     []byte   `json:"v,omitempty"`
	List      [][]byte `json:"l,omitempty"`
	IsList    bool     `json:"list,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"` // unix nanoseconds
}

// NewBoltStore opens (or creates) the database file at cfg.Path.
func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("kv: bolt path is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{
		Timeout: cfg.Timeout,
		NoSync:  cfg.NoSync,
	})
	if err != nil {
		return nil, fmt.Errorf("kv: bolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kv: bolt create bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (b *BoltStore) Put(ctx context.Context, key string, value []byte) error {
	return b.PutTTL(ctx, key, value, 0)
}

func (b *BoltStore) PutTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return wrapBolt("put", err)
	}
	v := boltValue{Value: value}
	if ttl > 0 {
		v.ExpiresAt = b.now().Add(ttl).UnixNano()
	}
	return wrapBolt("put", b.db.Update(func(tx *bolt.Tx) error {
		return b.write(tx, key, &v)
	}))
}

func (b *BoltStore) PutNX(ctx context.Context, key string, value []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, wrapBolt("putnx", err)
	}
	var stored bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, ok, err := b.read(tx, key)
		if err != nil || ok {
			return err
		}
		stored = true
		return b.write(tx, key, &boltValue{Value: value})
	})
	return stored, wrapBolt("putnx", err)
}

func (b *BoltStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapBolt("get", err)
	}
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v, ok, err := b.read(tx, key)
		switch {
		case err != nil:
			return err
		case !ok:
			return ErrNotFound
		case v.IsList:
			return fmt.Errorf("%w: %s holds a list", ErrWrongType, key)
		}
		out = v.Value
		return nil
	})
	return out, wrapBolt("get", err)
}

func (b *BoltStore) Delete(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, wrapBolt("delete", err)
	}
	var n int
	err := b.db.Update(func(tx *bolt.Tx) error {
		_, ok, err := b.read(tx, key)
		if err != nil {
			return err
		}
		if ok {
			n = 1
		}
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
	return n, wrapBolt("delete", err)
}

// Keys walks the bucket cursor in pages of PageSize, re-seeking after each
// page so no read transaction outlives a single page.
func (b *BoltStore) Keys(ctx context.Context, prefix string, limit int) iter.Seq2[string, error] {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	p := []byte(prefix)
	return func(yield func(string, error) bool) {
		var after []byte
		n := 0
		for {
			if err := ctx.Err(); err != nil {
				yield("", wrapBolt("keys", err))
				return
			}
			var page []string
			var last []byte
			full := false
			err := b.db.View(func(tx *bolt.Tx) error {
				c := tx.Bucket(bucketKV).Cursor()
				var k, v []byte
				if after == nil {
					k, v = c.Seek(p)
				} else {
					k, v = c.Seek(after)
					if k != nil && bytes.Equal(k, after) {
						k, v = c.Next()
					}
				}
				for ; k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
					if len(page) == PageSize {
						full = true
						break
					}
					last = append(last[:0], k...)
					if b.expired(v) {
						continue
					}
					page = append(page, string(k))
				}
				return nil
			})
			if err != nil {
				yield("", wrapBolt("keys", err))
				return
			}
			for _, k := range page {
				if !yield(k, nil) {
					return
				}
				n++
				if n >= limit {
					return
				}
			}
			if !full {
				return
			}
			after = last
		}
	}
}

func (b *BoltStore) MGet(ctx context.Context, keys []string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapBolt("mget", err)
	}
	out := make([]Entry, len(keys))
	err := b.db.View(func(tx *bolt.Tx) error {
		for i, k := range keys {
			out[i] = Entry{Key: k}
			v, ok, err := b.read(tx, k)
			if err != nil {
				return err
			}
			if ok && !v.IsList {
				out[i].Value = v.Value
				out[i].Found = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapBolt("mget", err)
	}
	return out, nil
}

func (b *BoltStore) PushCapped(ctx context.Context, key string, value []byte, keep int) error {
	if err := ctx.Err(); err != nil {
		return wrapBolt("push", err)
	}
	return wrapBolt("push", b.db.Update(func(tx *bolt.Tx) error {
		v, ok, err := b.read(tx, key)
		if err != nil {
			return err
		}
		if ok && !v.IsList {
			return fmt.Errorf("%w: %s holds a string", ErrWrongType, key)
		}
		next := &boltValue{IsList: true, List: [][]byte{value}}
		if ok {
			next.List = append(next.List, v.List...)
		}
		if keep > 0 && len(next.List) > keep {
			next.List = next.List[:keep]
		}
		return b.write(tx, key, next)
	}))
}

func (b *BoltStore) Range(ctx context.Context, key string, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapBolt("range", err)
	}
	var out [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v, ok, err := b.read(tx, key)
		if err != nil || !ok {
			return err
		}
		if !v.IsList {
			return fmt.Errorf("%w: %s holds a string", ErrWrongType, key)
		}
		out = v.List[:min(n, len(v.List))]
		return nil
	})
	return out, wrapBolt("range", err)
}

func (b *BoltStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapBolt("ping", err)
	}
	return wrapBolt("ping", b.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketKV) == nil {
			return fmt.Errorf("bucket %s missing", bucketKV)
		}
		return nil
	}))
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// read decodes the value at key. Expired values report ok=false.
func (b *BoltStore) read(tx *bolt.Tx, key string) (*boltValue, bool, error) {
	raw := tx.Bucket(bucketKV).Get([]byte(key))
	if raw == nil {
		return nil, false, nil
	}
	var v boltValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	if v.ExpiresAt > 0 && b.now().UnixNano() >= v.ExpiresAt {
		return nil, false, nil
	}
	return &v, true, nil
}

func (b *BoltStore) write(tx *bolt.Tx, key string, v *boltValue) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketKV).Put([]byte(key), data)
}

func (b *BoltStore) expired(raw []byte) bool {
	var v struct {
		ExpiresAt int64 `json:"exp"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return false
	}
	return v.ExpiresAt > 0 && b.now().UnixNano() >= v.ExpiresAt
}

// wrapBolt maps local database failures onto ErrUnavailable, leaving the
// package's result sentinels untouched.
func wrapBolt(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrWrongType) {
		return err
	}
	return fmt.Errorf("%w: bolt %s: %v", ErrUnavailable, op, err)
}
