package permission

import (
	"sync"
)

// Store holds the granted capabilities for the lifetime of the process.
// It is shared between the proxy (which checks) and the control surface
// (which grants and revokes); all methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	granted []Capability
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Grant validates the capability and appends it. Duplicates are permitted
// and indistinguishable from a single grant.
func (s *Store) Grant(c Capability) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.granted = append(s.granted, c.clone())
	return nil
}

// Revoke removes every granted capability structurally equal to c and
// reports whether any was removed.
func (s *Store) Revoke(c Capability) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.granted[:0]
	removed := false
	for _, g := range s.granted {
		if g.Equal(c) {
			removed = true
			continue
		}
		kept = append(kept, g)
	}
	s.granted = kept
	return removed
}

// Check reports whether some granted capability covers the required one.
// The snapshot is taken under a short read lock; matching runs outside it.
func (s *Store) Check(required Capability) bool {
	s.mu.RLock()
	snapshot := make([]Capability, len(s.granted))
	copy(snapshot, s.granted)
	s.mu.RUnlock()

	for _, g := range snapshot {
		if Match(required, g) {
			return true
		}
	}
	return false
}

// List returns a copy of the granted capabilities in grant order.
func (s *Store) List() []Capability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Capability, len(s.granted))
	for i, g := range s.granted {
		out[i] = g.clone()
	}
	return out
}

// Clear removes all granted capabilities and returns how many there were.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.granted)
	s.granted = nil
	return n
}
