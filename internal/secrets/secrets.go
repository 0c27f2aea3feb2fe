// Package secrets abstracts the external secret-management service that
// supplies encryption keys and broker API secrets.
package secrets

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no secret exists at the requested path.
var ErrNotFound = errors.New("secrets: not found")

// Store is the secret-management contract. Paths are slash-separated
// (e.g. "broker-auth/encryption-key"); a "#v<N>" suffix selects a key
// version where the backend supports versioning.
type Store interface {
	Get(ctx context.Context, path string) (string, error)
	Put(ctx context.Context, path, value string) error
}

// Static is an in-memory Store seeded from configuration. Used for local
// development and tests; production deployments use HTTPStore.
type Static struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStatic returns a Static store seeded with values (may be nil).
func NewStatic(values map[string]string) *Static {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[k] = v
	}
	return &Static{values: m}
}

func (s *Static) Get(ctx context.Context, path string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[path]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *Static) Put(ctx context.Context, path, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[path] = value
	return nil
}
