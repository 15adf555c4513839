package native

import (
	"fmt"
	"maps"
	"sync"

	"scripthook/process"
)

// Resolver finds the handler for an identifier.
type Resolver interface {
	Lookup(id Identifier) (process.Address, error)
}

// Registry is the append-only identifier to address map. Entries are filled
// on first use from the resolver and never dropped.
type Registry struct {
	resolver Resolver

	mu    sync.RWMutex
	addrs map[Identifier]process.Address
}

func NewRegistry(resolver Resolver) *Registry {
	return &Registry{
		resolver: resolver,
		addrs:    make(map[Identifier]process.Address),
	}
}

// Resolve returns the cached address or looks it up once.
func (r *Registry) Resolve(id Identifier) (process.Address, error) {
	r.mu.RLock()
	addr, ok := r.addrs[id]
	r.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, err := r.resolver.Lookup(id)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, fmt.Errorf("%s has a null handler: %w", id, ErrNativeNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.addrs[id]; ok {
		return prev, nil
	}
	r.addrs[id] = addr
	return addr, nil
}

// Bind records an address without consulting the resolver.
func (r *Registry) Bind(id Identifier, addr process.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.addrs[id]; ok && prev != addr {
		return fmt.Errorf("%s at %s, not %s: %w", id, prev, addr, ErrAlreadyBound)
	}
	r.addrs[id] = addr
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addrs)
}

// Snapshot copies the resolved entries.
func (r *Registry) Snapshot() map[Identifier]process.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.addrs)
}
