package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	ttl time.Duration
	now Clock

	mu      sync.Mutex
	records map[string]Record
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock, for tests.
func WithClock(now Clock) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store whose records live for ttl.
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl:     ttlOrDefault(ttl),
		now:     time.Now,
		records: make(map[string]Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check implements Store.
func (s *MemoryStore) Check(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok || record.Expired(s.now()) {
		return "", false, nil
	}
	return record.EntityID, true, nil
}

// Store implements Store.
func (s *MemoryStore) Store(_ context.Context, key, entityID, entityType string) error {
	if key == "" {
		return nil
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = Record{
		Key:        key,
		EntityID:   entityID,
		EntityType: entityType,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	return nil
}

// Remove implements Store.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Sweep implements Sweeper.
func (s *MemoryStore) Sweep(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, record := range s.records {
		if record.Expired(now) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of records held, live or expired.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
