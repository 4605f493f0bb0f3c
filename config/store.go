package config

import "sync/atomic"

// Store publishes an immutable Config through an atomic swap
// (spec.md §9: "global configuration singleton is redesigned as an
// immutable configuration value... updates publish a new value via an
// atomic swap read by all components at the top of each operation").
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore creates a Store seeded with the given (already-validated) config.
func NewStore(initial *Config) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Snapshot returns the currently published Config. Callers must treat
// it as read-only; it is safe to hold across an entire operation
// because Swap never mutates an existing value in place.
func (s *Store) Snapshot() *Config {
	return s.ptr.Load()
}

// Swap validates next and, if valid, atomically publishes it,
// returning the previous snapshot. Invalid updates are rejected
// without touching the published value.
func (s *Store) Swap(next *Config) (*Config, error) {
	if err := Validate(next); err != nil {
		return nil, err
	}
	prev := s.ptr.Swap(next)
	return prev, nil
}
