// Package store defines key-value persistence for sessions with per-key TTL
// and bounded cursor-based enumeration. A blocking full-keyspace listing is
// deliberately absent from the interface.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or its TTL has elapsed.
var ErrNotFound = errors.New("session store: key not found")

// Store is the persistence contract consumed by the lifecycle manager. The
// store never interprets session contents; values are opaque bytes.
type Store interface {
	// SetWithTTL writes value under key, expiring after ttl. A non-positive
	// ttl is rejected.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan returns up to count keys matching the pattern starting at cursor,
	// plus the next cursor (0 when the iteration is complete). Each call is
	// bounded; callers loop to cover the keyspace without blocking the store.
	Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
