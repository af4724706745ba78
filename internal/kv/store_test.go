package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
)

// runStoreContract exercises the behavior every Store implementation shares.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
		}
	})

	t.Run("PutGetOverwrite", func(t *testing.T) {
		if err := s.Put(ctx, "state:a1", []byte(`{"zoom":15,"models":[]}`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Put(ctx, "state:a1", []byte(`{"zoom":16}`)); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, err := s.Get(ctx, "state:a1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != `{"zoom":16}` {
			t.Errorf("Get = %s, want last write", got)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := s.Put(ctx, "del:k", []byte("v")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		for i, want := range []int{1, 0, 0} {
			n, err := s.Delete(ctx, "del:k")
			if err != nil {
				t.Fatalf("Delete #%d: %v", i, err)
			}
			if n != want {
				t.Errorf("Delete #%d = %d, want %d", i, n, want)
			}
		}
	})

	t.Run("PutNX", func(t *testing.T) {
		ok, err := s.PutNX(ctx, "nx:k", []byte("first"))
		if err != nil || !ok {
			t.Fatalf("PutNX first = (%v, %v), want (true, nil)", ok, err)
		}
		ok, err = s.PutNX(ctx, "nx:k", []byte("second"))
		if err != nil || ok {
			t.Fatalf("PutNX second = (%v, %v), want (false, nil)", ok, err)
		}
		got, _ := s.Get(ctx, "nx:k")
		if string(got) != "first" {
			t.Errorf("value = %q, want %q", got, "first")
		}
	})

	t.Run("KeysPagesAndBounds", func(t *testing.T) {
		const total = 2*PageSize + 17
		for i := 0; i < total; i++ {
			if err := s.Put(ctx, fmt.Sprintf("page:%04d", i), []byte("x")); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}
		if err := s.Put(ctx, "pagex", []byte("x")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		all, err := CollectKeys(s.Keys(ctx, "page:", total+100))
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		if len(all) != total {
			t.Fatalf("Keys returned %d keys, want %d", len(all), total)
		}
		sort.Strings(all)
		if all[0] != "page:0000" || all[total-1] != fmt.Sprintf("page:%04d", total-1) {
			t.Errorf("unexpected key range %q..%q", all[0], all[total-1])
		}

		bounded, err := CollectKeys(s.Keys(ctx, "page:", 5))
		if err != nil {
			t.Fatalf("Keys bounded: %v", err)
		}
		if len(bounded) != 5 {
			t.Errorf("Keys with limit 5 returned %d keys", len(bounded))
		}
	})

	t.Run("KeysEarlyBreak", func(t *testing.T) {
		n := 0
		for _, err := range s.Keys(ctx, "page:", 0) {
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			n++
			if n == 3 {
				break
			}
		}
		if n != 3 {
			t.Errorf("iterated %d keys, want 3", n)
		}
	})

	t.Run("MGetOrder", func(t *testing.T) {
		_ = s.Put(ctx, "m:1", []byte("one"))
		_ = s.Put(ctx, "m:3", []byte("three"))
		got, err := s.MGet(ctx, []string{"m:3", "m:2", "m:1"})
		if err != nil {
			t.Fatalf("MGet: %v", err)
		}
		want := []Entry{
			{Key: "m:3", Value: []byte("three"), Found: true},
			{Key: "m:2"},
			{Key: "m:1", Value: []byte("one"), Found: true},
		}
		if len(got) != len(want) {
			t.Fatalf("MGet returned %d entries, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i].Key != want[i].Key || got[i].Found != want[i].Found || !bytes.Equal(got[i].Value, want[i].Value) {
				t.Errorf("entry[%d] = %+v, want %+v", i, got[i], want[i])
			}
		}
		if empty, err := s.MGet(ctx, nil); err != nil || len(empty) != 0 {
			t.Errorf("MGet(nil) = (%v, %v)", empty, err)
		}
	})

	t.Run("PushCappedAndRange", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			if err := s.PushCapped(ctx, "hist:e1", []byte(fmt.Sprint(i)), 3); err != nil {
				t.Fatalf("PushCapped: %v", err)
			}
		}
		got, err := s.Range(ctx, "hist:e1", 10)
		if err != nil {
			t.Fatalf("Range: %v", err)
		}
		if len(got) != 3 || string(got[0]) != "4" || string(got[2]) != "2" {
			t.Errorf("Range = %q, want newest three", got)
		}
		head, _ := s.Range(ctx, "hist:e1", 1)
		if len(head) != 1 || string(head[0]) != "4" {
			t.Errorf("Range(1) = %q", head)
		}
		if _, err := s.Get(ctx, "hist:e1"); !errors.Is(err, ErrWrongType) {
			t.Errorf("Get on list = %v, want ErrWrongType", err)
		}
		entries, err := s.MGet(ctx, []string{"hist:e1"})
		if err != nil || entries[0].Found {
			t.Errorf("MGet on list = (%+v, %v), want not found", entries, err)
		}
		empty, err := s.Range(ctx, "hist:none", 10)
		if err != nil || len(empty) != 0 {
			t.Errorf("Range(missing) = (%q, %v)", empty, err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := s.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
