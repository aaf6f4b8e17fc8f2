package progress

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) AppendProgress(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return nil
}

func (s *MemoryStore) ListProgress(context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...), nil
}

func (s *MemoryStore) ClearProgress(_ context.Context, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n = min(max(n, 0), len(s.records))
	s.records = append([]Record(nil), s.records[n:]...)
	return nil
}

var _ Store = (*MemoryStore)(nil)
