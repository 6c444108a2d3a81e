// Package registry implements the central rider registry named in
// SPEC_FULL.md §9: a stable id -> *Rider map so other components hold ids,
// not pointers into a reservoir's internals. The reservoir that currently
// owns a rider is the only writer of that rider's State field; the registry
// itself is just concurrent-safe storage and lookup.
package registry

import (
	"sync"

	"github.com/citytransit/simcore/internal/model"
)

// Registry is a concurrent map of rider id to *model.Rider.
type Registry struct {
	mu     sync.RWMutex
	riders map[string]*model.Rider
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{riders: make(map[string]*model.Rider)}
}

// Put inserts or replaces the rider under its id.
func (r *Registry) Put(rider *model.Rider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riders[rider.ID] = rider
}

// Get returns the rider for id, or nil and false if unknown.
func (r *Registry) Get(id string) (*model.Rider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rider, ok := r.riders[id]
	return rider, ok
}

// Delete removes a rider from the registry. Called on any terminal
// transition (BOARDED persists until COMPLETED; EXPIRED/REJECTED remove
// immediately).
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.riders, id)
}

// Len returns the number of riders currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.riders)
}
