// Package registry implements the component registry: the process-wide
// map from ComponentID to routing address (spec §4.5/§5/§6). It is an
// identity registry only; message delivery goes through the broker's
// inboxes and does not consult it.
package registry

import (
	"sync"

	"github.com/nmxmxh/wasmrt/pkg/apierrors"
	"github.com/nmxmxh/wasmrt/pkg/capability"
)

// Address is the routing-level location of a registered component.
// Currently a thin wrapper over ComponentID since this host is
// single-process (spec §1 Non-goals excludes cross-host migration); kept
// as a distinct type so routing code never conflates "identity" with
// "where to deliver".
type Address struct {
	ComponentID capability.ComponentID
}

// Registry is a readers-dominant map from ComponentID to Address,
// guarded by an RWMutex so concurrent Lookup calls never block each
// other (spec §5 "readers dominant").
type Registry struct {
	mu      sync.RWMutex
	entries map[capability.ComponentID]Address
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[capability.ComponentID]Address)}
}

// Register adds id with its routing address. Replaces any existing entry
// for the same id.
func (r *Registry) Register(id capability.ComponentID, addr Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = addr
}

// Lookup returns id's address, or ErrComponentNotFound if it isn't
// registered.
func (r *Registry) Lookup(id capability.ComponentID) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.entries[id]
	if !ok {
		return Address{}, apierrors.Wrap(apierrors.ErrComponentNotFound, id.String(), nil)
	}
	return addr, nil
}

// ResolveAddress is Lookup without an error return, for routing code that
// prefers the ok-idiom (spec §6).
func (r *Registry) ResolveAddress(id capability.ComponentID) (Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.entries[id]
	return addr, ok
}

// Unregister removes id, if present. A no-op if it wasn't registered.
func (r *Registry) Unregister(id capability.ComponentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// IsRegistered reports whether id currently has an entry.
func (r *Registry) IsRegistered(id capability.ComponentID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Count returns the number of currently registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
