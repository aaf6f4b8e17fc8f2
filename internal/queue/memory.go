package queue

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps mutations in process memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]Mutation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[int64]Mutation)}
}

func (s *MemoryStore) AppendMutation(_ context.Context, m Mutation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	m.Payload = append([]byte(nil), m.Payload...)
	s.items[m.ID] = m
	return m.ID, nil
}

func (s *MemoryStore) ListMutations(_ context.Context, tag string) ([]Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Mutation, 0)
	for _, m := range s.items {
		if m.Tag == tag {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RemoveMutation(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
