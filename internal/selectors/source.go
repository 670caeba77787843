package selectors

import (
	"sync"
)

// Source hands out the current map. Each pipeline run takes one snapshot at
// engine start and uses it for the whole run; a swap only affects runs that
// start afterwards.
type Source struct {
	mu      sync.RWMutex
	current *Map
}

// NewSource returns a Source serving m.
func NewSource(m *Map) *Source {
	return &Source{current: m}
}

// LoadSource reads path into a new Source.
func LoadSource(path string) (*Source, error) {
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewSource(m), nil
}

// Snapshot returns the map in effect now.
func (s *Source) Snapshot() *Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs a new map and returns the previous one.
func (s *Source) Swap(m *Map) *Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = m
	return prev
}
