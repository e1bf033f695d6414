package profile

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) Save(_ context.Context, record Record) (string, error) {
	record = prepare(record)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return record.ID, nil
}

func (s *MemoryStore) Close() error { return nil }
