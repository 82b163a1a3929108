package cache

import (
	"sort"
	"sync"
)

// VisitedSet is a concurrent-safe set of normalised URL keys.
// Membership is the only query; insertion order is not kept.
type VisitedSet struct {
	mu    sync.RWMutex
	items map[string]struct{}
}

// NewVisitedSet creates and returns an empty VisitedSet.
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{
		items: make(map[string]struct{}),
	}
}

// Add inserts key and reports whether it was absent.
// The check and the insert happen under one lock, so two callers racing
// on the same key never both see true.
func (s *VisitedSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.items[key]; found {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Contains reports whether key has been added.
func (s *VisitedSet) Contains(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, found := s.items[key]
	return found
}

// Len returns the number of keys in the set.
func (s *VisitedSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Keys returns a sorted copy of the set's contents.
func (s *VisitedSet) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}
