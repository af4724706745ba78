package idgen

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func inAlphabet(s string) bool {
	return s != "" && strings.Trim(s, Alphabet) == ""
}

func TestGenerators(t *testing.T) {
	if Length < 8 {
		t.Fatalf("Length = %d; record ids must be at least 8 characters", Length)
	}
	cases := []struct {
		name    string
		gen     func() (string, error)
		prefix  string
		wantLen int
	}{
		{"record", Generate, "", Length},
		{"prefixed", func() (string, error) { return GenerateWithPrefix("usr_") }, "usr_", len("usr_") + Length},
		{"token", func() (string, error) { return GenerateN(TokenLength) }, "", TokenLength},
		{"single", func() (string, error) { return GenerateN(1) }, "", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 50; i++ {
				id, err := tc.gen()
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(id) != tc.wantLen {
					t.Fatalf("len(%q) = %d, want %d", id, len(id), tc.wantLen)
				}
				rest, ok := strings.CutPrefix(id, tc.prefix)
				if !ok || !inAlphabet(rest) {
					t.Fatalf("id %q: want prefix %q followed by alphabet characters", id, tc.prefix)
				}
			}
		})
	}
}

func TestGenerateN_InvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if id, err := GenerateN(n); err == nil {
			t.Errorf("GenerateN(%d) = %q, want error", n, id)
		}
	}
}

func TestGenerate_FailureIsExhausted(t *testing.T) {
	saved := Alphabet
	Alphabet = ""
	defer func() { Alphabet = saved }()

	_, err := Generate()
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
}

func TestGenerate_ConcurrentUnique(t *testing.T) {
	const workers, each = 8, 1000
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, workers*each)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				id, err := Generate()
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate id %q", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*each {
		t.Errorf("got %d distinct ids, want %d", len(seen), workers*each)
	}
}
