package memory

import (
	"context"
	"sync"
)

// InMemory is a Store scoped to the life of the process.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string]string
	match   Match
}

// NewInMemory creates an empty in-memory store.
func NewInMemory(opts ...Option) *InMemory {
	o := collect(opts)
	return &InMemory{entries: make(map[string]string), match: o.match}
}

// Remember implements Store.
func (s *InMemory) Remember(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Key()] = e.Value
	return nil
}

// Recollect implements Store.
func (s *InMemory) Recollect(_ context.Context, q Query) (string, bool, error) {
	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.entries))
	for k, v := range s.entries {
		candidates = append(candidates, candidate{key: k, value: v})
	}
	s.mu.RUnlock()

	c, ok := selectBest(s.match, q, candidates)
	return c.value, ok, nil
}

// Snapshot returns a copy of every stored key and value.
func (s *InMemory) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// Close implements Backend.
func (s *InMemory) Close() error { return nil }
