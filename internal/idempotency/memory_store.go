package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	outcome   []byte
	expiresAt time.Time
}

// MemoryStore caches write outcomes in process memory. Single-coordinator
// deployments and tests use it in place of Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached outcome for requestID.
func (s *MemoryStore) Get(_ context.Context, requestID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, requestID)
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.outcome...), nil
}

// Set caches the outcome for requestID with a TTL.
func (s *MemoryStore) Set(_ context.Context, requestID string, outcome []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[requestID] = memoryEntry{
		outcome:   append([]byte(nil), outcome...),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes a cached outcome.
func (s *MemoryStore) Delete(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, requestID)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
