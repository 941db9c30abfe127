// Package eventlock provides per-event exclusive locks so that exactly
// one trade or settlement executes against a given event at a time while
// traffic on different events proceeds in parallel.
package eventlock

import "sync"

// Registry hands out one mutex per event id, created on first use.
// Mutexes are never discarded; the per-event footprint is one mutex.
type Registry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the exclusive lock for eventID, creating it on first
// use. The returned function releases it.
func (r *Registry) Lock(eventID int64) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[eventID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
