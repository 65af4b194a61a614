package upstream

import (
	"context"
	"sync"
	"time"
)

// record is one stored thread state.
type record struct {
	userData  string
	updatedAt time.Time
}

// MemoryStore implements Store with an in-memory map.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]record),
	}
}

// Get returns the serialized state for threadID, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, threadID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.threads[threadID]
	if !ok {
		return "", ErrNotFound
	}
	return rec.userData, nil
}

// Save writes the serialized state for threadID.
func (s *MemoryStore) Save(_ context.Context, threadID, userData string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[threadID] = record{userData: userData, updatedAt: time.Now()}
	return nil
}

// Delete removes the state for threadID.
func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrNotFound
	}
	delete(s.threads, threadID)
	return nil
}

// Len returns the number of stored threads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Close releases store resources.
func (*MemoryStore) Close() error {
	return nil
}

// Verify interface compliance.
var _ Store = (*MemoryStore)(nil)
