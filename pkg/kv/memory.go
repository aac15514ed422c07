package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the map-backed fallback used when no Badger directory is
// configured and for tests that want zero setup. Expiry is checked lazily
// on access; pattern matching reuses the same glob translation as the
// Badger store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Get reads and JSON-decodes the value at key.
func (s *MemoryStore) Get(ctx context.Context, key string, out any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if e.expired(s.now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	if out != nil {
		if err := json.Unmarshal(e.raw, out); err != nil {
			return false, fmt.Errorf("kv decode %q: %w", key, err)
		}
	}
	return true, nil
}

// Set JSON-encodes value and stores it with the given TTL.
func (s *MemoryStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv encode %q: %w", key, err)
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = memoryEntry{raw: raw, expiresAt: expiresAt}
	s.mu.Unlock()
	return nil
}

// Delete removes key; missing keys are a no-op.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// FindKeys returns live keys matching the glob pattern.
func (s *MemoryStore) FindKeys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	re, err := compileGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("kv pattern %q: %w", pattern, err)
	}

	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			continue
		}
		if re.MatchString(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// DeleteByPattern removes all keys matching the glob pattern.
func (s *MemoryStore) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := s.FindKeys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
	return len(keys), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
