package acquisition

import (
	"context"
	"sync"
)

// MemoryStore is an in-process CacheStore and ThrottleStore. It backs the
// dry-run scan mode and the package tests. Safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	cache    map[CacheKey]CacheEntry
	throttle map[ThrottleKey]ThrottleState
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache:    make(map[CacheKey]CacheEntry),
		throttle: make(map[ThrottleKey]ThrottleState),
	}
}

func (s *MemoryStore) ReadCacheEntry(_ context.Context, key CacheKey) (*CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.cache[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *MemoryStore) WriteCacheEntry(_ context.Context, entry CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.Key] = entry
	return nil
}

func (s *MemoryStore) ReadThrottleState(_ context.Context, key ThrottleKey) (*ThrottleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.throttle[key]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *MemoryStore) WriteThrottleState(_ context.Context, state ThrottleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle[state.Key] = state
	return nil
}

var (
	_ CacheStore    = (*MemoryStore)(nil)
	_ ThrottleStore = (*MemoryStore)(nil)
)
