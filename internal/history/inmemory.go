package history

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-process recency store for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

func (s *InMemoryStore) Read(_ context.Context, key MemoryKey, limit int) ([]Entry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.entries[key.Encode()]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Entry, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Append(_ context.Context, key MemoryKey, text string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.Encode()
	arr := s.entries[k]
	score := time.Now().UnixMilli()
	// Same-tick appends must not collide; bump past the last score.
	if n := len(arr); n > 0 && score <= arr[n-1].Score {
		score = arr[n-1].Score + 1
	}
	s.entries[k] = append(arr, Entry{Text: text, Score: score})
	return nil
}

func (s *InMemoryStore) SeedIfEmpty(_ context.Context, key MemoryKey, seed, delimiter string) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.Encode()
	if len(s.entries[k]) > 0 {
		return false, nil
	}
	lines := SplitSeed(seed, delimiter)
	if len(lines) == 0 {
		return false, nil
	}
	arr := make([]Entry, 0, len(lines))
	for i, line := range lines {
		arr = append(arr, Entry{Text: line, Score: int64(i)})
	}
	s.entries[k] = arr
	return true, nil
}

func (s *InMemoryStore) Exists(_ context.Context, key MemoryKey) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries[key.Encode()]) > 0, nil
}

func (s *InMemoryStore) Close() error { return nil }
