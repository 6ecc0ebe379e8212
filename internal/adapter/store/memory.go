package store

import (
	"context"
	"sync"
	"time"

	"taskgrid/internal/domain"
)

// MemoryStore is an in-process domain.OrderedStore for standalone mode and
// tests. Tie-breaking on equal scores matches Redis ZPOPMAX: the
// lexicographically greatest member pops first.
type MemoryStore struct {
	mu       sync.Mutex
	sets     map[string]map[string]float64
	counters map[string]*counter
}

type counter struct {
	value     int64
	expiresAt time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sets:     make(map[string]map[string]float64),
		counters: make(map[string]*counter),
	}
}

// ZAdd implements domain.OrderedStore.
func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]float64)
		s.sets[key] = set
	}
	set[member] = score
	return nil
}

// ZCard implements domain.OrderedStore.
func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

// ZPopMax implements domain.OrderedStore.
func (s *MemoryStore) ZPopMax(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	if len(set) == 0 {
		return "", false, nil
	}
	var best string
	var bestScore float64
	first := true
	for member, score := range set {
		if first || score > bestScore || (score == bestScore && member > best) {
			best, bestScore = member, score
			first = false
		}
	}
	delete(set, best)
	return best, true, nil
}

// IncrWithTTL implements domain.OrderedStore.
func (s *MemoryStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.value++
	return c.value, nil
}

// Ping implements domain.OrderedStore.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close implements domain.OrderedStore.
func (s *MemoryStore) Close() error { return nil }

var _ domain.OrderedStore = (*MemoryStore)(nil)
