package catalog

import "sync/atomic"

// Store is a generic lock-free read, write-serialized store over an
// immutable map, grounded on the same atomic hot-swap idiom the teacher's
// internal/loadbalancer.baseBalancer uses for its cachedHealthy slice and
// internal/listener.HTTPListener uses for its TLS certificate pointer:
// writers build a brand-new map and atomically swap the pointer, readers
// never take a lock.
type Store[T any] struct {
	m atomic.Pointer[map[string]T]
}

// NewStore creates an empty store.
func NewStore[T any]() *Store[T] {
	s := &Store[T]{}
	empty := map[string]T{}
	s.m.Store(&empty)
	return s
}

// Get returns the value for id, or the zero value and false.
func (s *Store[T]) Get(id string) (T, bool) {
	m := *s.m.Load()
	v, ok := m[id]
	return v, ok
}

// All returns the current snapshot map. Callers must not mutate it.
func (s *Store[T]) All() map[string]T {
	return *s.m.Load()
}

// Replace atomically swaps in a brand-new map built by the caller, returning
// the id set that was added, removed, or replaced relative to the previous
// map so the registry can derive RegistryEvents from the diff.
func (s *Store[T]) Replace(next map[string]T, equal func(a, b T) bool) (added, removed, replaced []string) {
	prev := *s.m.Load()
	for id, v := range next {
		old, ok := prev[id]
		if !ok {
			added = append(added, id)
		} else if equal == nil || !equal(old, v) {
			replaced = append(replaced, id)
		}
	}
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	s.m.Store(&next)
	return added, removed, replaced
}
