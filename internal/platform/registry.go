// Package platform hosts the protocol adapters and their shared registry.
package platform

import (
	"fmt"
	"sort"
	"sync"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// Registry manages a named collection of protocol adapters that can be looked
// up at runtime. It is safe for concurrent use.
type Registry struct {
	adapters map[string]domain.ProtocolAdapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]domain.ProtocolAdapter),
	}
}

// Register adds an adapter under its own Name(). If an adapter with the same
// name already exists it will be replaced.
func (r *Registry) Register(a domain.ProtocolAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get retrieves an adapter by protocol name. It returns an error when the
// name is not registered.
func (r *Registry) Get(protocol string) (domain.ProtocolAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[protocol]
	if !ok {
		return nil, fmt.Errorf("platform: protocol %q: not registered", protocol)
	}
	return a, nil
}

// List returns the names of all registered protocols in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
