package balancer

import (
	"sync"

	"github.com/allenfu2013/kong/internal/domain"
)

// Registry is the process-wide mapping from upstream name to its live
// balancer instance. It starts empty; entries are created lazily by the
// reconciler, replaced wholesale on rebuild, and evicted when the owning
// upstream is reloaded or disappears from the directory.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*domain.BalancerInstance
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*domain.BalancerInstance)}
}

// Get returns the instance registered under name, or nil
func (r *Registry) Get(name string) *domain.BalancerInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// GetOrSet registers inst under name unless another instance is already
// present, and returns the instance that won. Two concurrent first lookups
// for the same upstream both construct an instance; only one may be kept.
func (r *Registry) GetOrSet(name string, inst *domain.BalancerInstance) *domain.BalancerInstance {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.instances[name]; ok {
		return existing
	}
	r.instances[name] = inst
	return inst
}

// Set registers inst under name, replacing any existing instance. This is
// the rebuild path's atomic swap.
func (r *Registry) Set(name string, inst *domain.BalancerInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[name] = inst
}

// Delete evicts the instance registered under name, if any
func (r *Registry) Delete(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// Retain evicts every instance whose name is not a key of live. The
// directory cache calls this on reload so balancers for deleted upstreams
// cannot linger.
func (r *Registry) Retain(live map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.instances {
		if _, ok := live[name]; !ok {
			delete(r.instances, name)
		}
	}
}

// Len returns the number of registered instances
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}
