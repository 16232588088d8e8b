// Package dedup merges the references of all facets of a run into one set
// unique by URL, while keeping count of the raw, repeat-inclusive yield.
package dedup

import (
	"context"
	"sync"

	"github.com/Sternrassler/vacancy-ingest/pkg/vacancy"
)

// Set is a set of references. Implementations must be safe for concurrent use.
type Set interface {
	// Add inserts references and returns how many were not present before.
	Add(ctx context.Context, refs ...vacancy.Reference) (int, error)

	// Members returns all references in unspecified order.
	Members(ctx context.Context) ([]vacancy.Reference, error)

	// Len returns the number of unique references.
	Len(ctx context.Context) (int, error)
}

// MemorySet is an in-process Set guarded by a mutex.
type MemorySet struct {
	mu   sync.RWMutex
	seen map[vacancy.Reference]struct{}
}

// NewMemorySet creates an empty MemorySet.
func NewMemorySet() *MemorySet {
	return &MemorySet{seen: make(map[vacancy.Reference]struct{})}
}

// Add implements Set.
func (s *MemorySet) Add(_ context.Context, refs ...vacancy.Reference) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, ref := range refs {
		if _, exists := s.seen[ref]; exists {
			continue
		}
		s.seen[ref] = struct{}{}
		added++
	}
	return added, nil
}

// Contains reports whether ref is in the set.
func (s *MemorySet) Contains(ref vacancy.Reference) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[ref]
	return exists
}

// Members implements Set.
func (s *MemorySet) Members(_ context.Context) ([]vacancy.Reference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vacancy.Reference, 0, len(s.seen))
	for ref := range s.seen {
		out = append(out, ref)
	}
	return out, nil
}

// Len implements Set.
func (s *MemorySet) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen), nil
}
