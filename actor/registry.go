package actor

import (
	"sync"
)

// registryEntry pairs the two views of a registered actor.
type registryEntry struct {
	deliverable Deliverable
	cell        internalCell
}

// PathRegistry is a concurrent bidirectional map between actor paths and
// live actors: path -> ref and actor id -> path. It is the single owner of
// ref lookups, which is how the kernel avoids parent/child reference
// cycles, and it is what the remoting server resolves inbound envelopes
// against. The registry is local to one system.
type PathRegistry struct {
	mu     sync.RWMutex
	byPath map[string]registryEntry
	byID   map[string]ActorPath
}

// newPathRegistry creates an empty registry.
func newPathRegistry() *PathRegistry {
	return &PathRegistry{
		byPath: make(map[string]registryEntry),
		byID:   make(map[string]ActorPath),
	}
}

// register indexes a cell under its path and id.
func (r *PathRegistry) register(entry registryEntry) {
	pth := entry.cell.cellPath()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byPath[pathKey(pth)] = entry
	r.byID[entry.cell.cellID()] = pth
}

// unregister removes an actor by id, dropping both directions of the map.
func (r *PathRegistry) unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pth, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byPath, pathKey(pth))
}

// Resolve looks up the actor registered at the given path.
func (r *PathRegistry) Resolve(pth ActorPath) (Deliverable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byPath[pathKey(pth)]
	if !ok {
		return nil, false
	}

	return entry.deliverable, true
}

// ResolveString looks up an actor by the string form of its path, local
// ("/user/x") or fully qualified.
func (r *PathRegistry) ResolveString(s string) (Deliverable, bool) {
	pth, err := r.localAddress().ParsePath(s)
	if err != nil {
		return nil, false
	}

	return r.Resolve(pth)
}

// PathFor returns the path registered for an actor id.
func (r *PathRegistry) PathFor(id string) (ActorPath, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pth, ok := r.byID[id]

	return pth, ok
}

// Len returns the number of registered actors.
func (r *PathRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byPath)
}

// resolveCell is the kernel-internal variant of Resolve.
func (r *PathRegistry) resolveCell(pth ActorPath) (internalCell, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byPath[pathKey(pth)]
	if !ok {
		return nil, false
	}

	return entry.cell, true
}

// localAddress infers the registry's address from any registered root. The
// registry stores keys address-free, so the answer only matters for parsing
// relative lookups.
func (r *PathRegistry) localAddress() Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, pth := range r.byID {
		return pth.Address
	}

	return NewLocalAddress("local")
}

// pathKey canonicalizes a path for map lookup. Keys are address-free so
// that lookups succeed whether the caller holds the system's local or
// remote-enabled address form.
func pathKey(pth ActorPath) string {
	key := "/"
	for i, seg := range pth.Segments {
		if i > 0 {
			key += "/"
		}
		key += seg
	}

	return key
}
