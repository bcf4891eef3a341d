package revocation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewMemoryStore constructs an empty in-memory revocation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
	}
}

// Put records the digest, keeping the later expiry on re-revocation.
func (s *MemoryStore) Put(ctx context.Context, digest string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[digest]; ok && cur.After(expiresAt) {
		return nil
	}
	s.entries[digest] = expiresAt
	return nil
}

// Get returns the stored expiry for the digest.
func (s *MemoryStore) Get(ctx context.Context, digest string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.entries[digest]
	return exp, ok, nil
}

// Delete removes a single entry.
func (s *MemoryStore) Delete(ctx context.Context, digest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, digest)
	return nil
}

// DeleteExpired removes every entry with expiry at or before now.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for digest, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, digest)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries (tests and metrics).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
