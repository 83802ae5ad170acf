package dispatcher

import (
	"fmt"
	"sync"
)

// Registry maps dispatcher type names to their builders. Backend packages
// register themselves from init(), replacing reflective plugin discovery with
// static registration.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global dispatcher registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder under the given dispatcher type name. The name
// must match the key used in agent configuration files.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// New constructs an uninitialized dispatcher for the given type name.
func (r *Registry) New(name string, deps Deps) (Dispatcher, error) {
	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown dispatcher: %q (registered: %v)", name, r.Names())
	}
	return builder(deps.normalized()), nil
}

// Names returns the registered dispatcher type names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Has reports whether a dispatcher type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// New constructs a dispatcher using the default registry.
func New(name string, deps Deps) (Dispatcher, error) {
	return DefaultRegistry.New(name, deps)
}
