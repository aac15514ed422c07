// Package kv provides the typed key-value store backing sessions, manifests,
// idempotency entries, usage counters, job state, and the listing cache.
//
// Two implementations exist: a BadgerDB-backed store (persistent or
// in-memory) with native TTL support, and a plain map-backed store used when
// no Badger directory is configured. Both support glob pattern lookup and
// deletion with "*" and "?" wildcards, which the cache-invalidation paths
// rely on.
package kv

import (
	"context"
	"time"
)

// Store is the interface all higher components use. Values are encoded as
// JSON; Get decodes into out and reports whether the key was present and
// unexpired.
type Store interface {
	// Get reads key into out (a pointer). Returns false if the key is
	// missing or expired.
	Get(ctx context.Context, key string, out any) (bool, error)

	// Set writes key with an optional TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// FindKeys returns all live keys matching the glob pattern.
	FindKeys(ctx context.Context, pattern string) ([]string, error)

	// DeleteByPattern removes all keys matching the glob pattern and
	// returns how many were removed.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)

	// Close releases backing resources.
	Close() error
}
