// Package alias assigns stable human-facing numbers to device identities.
package alias

import "sync"

// Registry maps device identities to small sequential aliases. The same
// identity always yields the same alias for the lifetime of the registry, and
// numbers are never reused: a new identity gets max(allocated)+1, starting
// at 1. Persistence is an external concern; a durable adapter can pre-seed
// the high-water mark and export the mapping via Snapshot.
type Registry struct {
	mu        sync.Mutex
	byID      map[string]int
	highWater int
}

// NewRegistry creates an empty alias registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Seed raises the high-water mark so that future allocations start above n.
// Used to restore monotonicity from a durable store; it never lowers the
// mark and never rewrites existing mappings.
func (r *Registry) Seed(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n > r.highWater {
		r.highWater = n
	}
}

// Restore installs a persisted identity->alias mapping. Existing in-memory
// mappings win; the high-water mark absorbs every restored value.
func (r *Registry) Restore(mapping map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for identity, n := range mapping {
		if n < 1 {
			continue
		}

		if _, ok := r.byID[identity]; !ok {
			r.byID[identity] = n
		}

		if n > r.highWater {
			r.highWater = n
		}
	}
}

// Allocate returns the alias for identity, assigning the next number if the
// identity is unknown.
func (r *Registry) Allocate(identity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n, ok := r.byID[identity]; ok {
		return n
	}

	r.highWater++
	r.byID[identity] = r.highWater

	return r.highWater
}

// Lookup returns the alias for identity without allocating.
func (r *Registry) Lookup(identity string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[identity]

	return n, ok
}

// Snapshot copies the current mapping for a durable-store adapter.
func (r *Registry) Snapshot() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.byID))
	for identity, n := range r.byID {
		out[identity] = n
	}

	return out
}
