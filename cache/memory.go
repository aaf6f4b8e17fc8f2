package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryRegistry keeps stores in process memory
type MemoryRegistry struct {
	mu     sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*memoryStore)}
}

// Open implements Registry
func (r *MemoryRegistry) Open(_ context.Context, name string) (Store, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrStoreNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stores[name]
	if !ok {
		s = &memoryStore{name: name, entries: make(map[string]*Entry)}
		r.stores[name] = s
	}
	return s, nil
}

// ListStores implements Registry
func (r *MemoryRegistry) ListStores(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteStore implements Registry
func (r *MemoryRegistry) DeleteStore(_ context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrStoreNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stores[name]
	delete(r.stores, name)
	return ok, nil
}

// memoryStore guards its map for memory safety only. Callers that fetch and
// then put the same key concurrently still race; the last Put wins.
type memoryStore struct {
	name    string
	mu      sync.RWMutex
	entries map[string]*Entry
}

func (s *memoryStore) Name() string { return s.name }

func (s *memoryStore) Match(_ context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, ErrKeyRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (s *memoryStore) Put(_ context.Context, key string, entry *Entry) error {
	if key == "" {
		return ErrKeyRequired
	}
	cp := *entry
	cp.Key = key
	if cp.SizeBytes == 0 {
		cp.SizeBytes = int64(len(cp.Body))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *memoryStore) Keys(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys, nil
}
