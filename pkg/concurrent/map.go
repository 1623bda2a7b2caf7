// Package concurrent provides a mutex-backed keyed container with atomic
// compound operations, used wherever kestrel needs shared mutable state
// (primarily the reactor's fd -> connection table).
package concurrent

import (
	"sync"

	"github.com/kestrel-run/kestrel/pkg/logging"
)

// Map is a thread-safe map with a single internal mutex. Every method
// serializes on that mutex; the trade-off is simplicity over lock-free
// throughput, matching how every mutable shared container in the pack
// this module is grounded on is built.
//
// Go has no lock-poisoning concept, but every method still wraps its
// critical section in a recover() guard: an unexpected panic while the
// lock is held degrades to a logged no-op rather than leaving the mutex
// locked or crashing the caller, which is the closest faithful analogue
// to "a lock-acquisition failure is reported as None rather than a
// process abort."
type Map[K comparable, V any] struct {
	mu  sync.Mutex
	m   map[K]V
	log logging.Logger
}

// New creates an empty Map. log may be nil, in which case recovered
// panics are silently swallowed.
func New[K comparable, V any](log logging.Logger) *Map[K, V] {
	return &Map[K, V]{
		m:   make(map[K]V),
		log: log,
	}
}

func (m *Map[K, V]) logf(op string, r any) {
	if m.log != nil {
		m.log.WithField("op", op).Errorf("concurrent.Map: recovered panic: %v", r)
	}
}

// Insert stores v under k, returning the prior value if one existed.
func (m *Map[K, V]) Insert(k K, v V) (prior V, existed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("insert", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, existed = m.m[k]
	m.m[k] = v
	return prior, existed
}

// Get returns the value stored under k, if any. Because Go copies values
// on assignment, this already gives "get_clone" semantics for the value
// types kestrel stores in these maps.
func (m *Map[K, V]) Get(k K) (v V, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("get", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok = m.m[k]
	return v, ok
}

// Remove deletes k, returning the removed value if present.
func (m *Map[K, V]) Remove(k K) (removed V, existed bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("remove", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed, existed = m.m[k]
	if existed {
		delete(m.m, k)
	}
	return removed, existed
}

// FindRemove atomically finds the first entry for which pred returns
// true and removes it. Iteration order is unspecified but the search and
// removal happen under one lock acquisition, so no other goroutine can
// observe the entry between the match and the removal.
func (m *Map[K, V]) FindRemove(pred func(K, V) bool) (key K, value V, found bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("find_remove", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		if pred(k, v) {
			delete(m.m, k)
			return k, v, true
		}
	}
	return key, value, false
}

// RetainWith drops every entry for which pred returns false and returns
// the number of entries removed. Transitions happen in place under the
// single lock acquisition; callers that need to mutate-then-keep an
// entry (e.g. the reactor advancing a connection's state) should use
// Update instead of Remove+Insert, which would otherwise open a window
// where the key is briefly absent from the map.
func (m *Map[K, V]) RetainWith(pred func(K, V) bool) int {
	defer func() {
		if r := recover(); r != nil {
			m.logf("retain_with", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, v := range m.m {
		if !pred(k, v) {
			delete(m.m, k)
			removed++
		}
	}
	return removed
}

// Update applies fn to the value currently stored under k, if any, and
// stores the result back in place. It reports whether k was present.
// This is the in-place transition primitive the reactor uses to avoid
// the remove-then-reinsert race called out in the design notes: the key
// is never briefly absent from the map during a state transition.
func (m *Map[K, V]) Update(k K, fn func(V) V) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("update", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, exists := m.m[k]
	if !exists {
		return false
	}
	m.m[k] = fn(v)
	return true
}

// Len returns the number of entries currently stored.
func (m *Map[K, V]) Len() int {
	defer func() {
		if r := recover(); r != nil {
			m.logf("len", r)
		}
	}()
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}
