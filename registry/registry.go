// Package registry provides the kernel's service registry: descriptors
// bound to factories with singleton, transient or scoped lifetimes. It
// implements the plugin.ServiceRegistry contract the engine hands to
// plugins at start.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/kernel/plugin"
)

// Registry errors.
var (
	ErrServiceAlreadyRegistered = errors.New("service already registered")
	ErrServiceNotFound          = errors.New("service not found")
	ErrFactoryNil               = errors.New("service factory cannot be nil")
	ErrDescriptorEmpty          = errors.New("service descriptor cannot be empty")
	ErrUnknownLifetime          = errors.New("unknown service lifetime")
)

// entry is one registered descriptor.
type entry struct {
	factory  func() (interface{}, error)
	lifetime plugin.Lifetime

	mu       sync.Mutex
	instance interface{}
	built    bool
}

// Registry maps service descriptors to factories. Singleton descriptors
// build once and share the instance; transient descriptors build on every
// resolve; scoped descriptors build once per Scope, with the root registry
// acting as its own scope.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty service registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register binds a factory to a descriptor. Registering an existing
// descriptor fails.
func (r *Registry) Register(descriptor string, factory func() (interface{}, error), lifetime plugin.Lifetime) error {
	if descriptor == "" {
		return ErrDescriptorEmpty
	}
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrFactoryNil, descriptor)
	}
	switch lifetime {
	case plugin.LifetimeSingleton, plugin.LifetimeTransient, plugin.LifetimeScoped:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLifetime, lifetime)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[descriptor]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, descriptor)
	}
	r.entries[descriptor] = &entry{factory: factory, lifetime: lifetime}
	return nil
}

// Resolve returns an instance for the descriptor. Factory failures are
// reported as absence.
func (r *Registry) Resolve(descriptor string) (interface{}, bool) {
	r.mu.RLock()
	e, ok := r.entries[descriptor]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}

	switch e.lifetime {
	case plugin.LifetimeTransient:
		instance, err := e.factory()
		if err != nil {
			return nil, false
		}
		return instance, true
	default:
		// Singleton, and scoped resolved at the root.
		e.mu.Lock()
		defer e.mu.Unlock()
		if !e.built {
			instance, err := e.factory()
			if err != nil {
				return nil, false
			}
			e.instance = instance
			e.built = true
		}
		return e.instance, true
	}
}

// Unregister removes the descriptor and drops any cached instance.
func (r *Registry) Unregister(descriptor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[descriptor]; !ok {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, descriptor)
	}
	delete(r.entries, descriptor)
	return nil
}

// Descriptors returns a snapshot of the registered descriptors.
func (r *Registry) Descriptors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for descriptor := range r.entries {
		out = append(out, descriptor)
	}
	return out
}

// NewScope creates a resolution scope: scoped descriptors build once per
// scope, while singleton and transient behavior is unchanged.
func (r *Registry) NewScope() *Scope {
	return &Scope{root: r, instances: make(map[string]interface{})}
}

// Scope resolves against its parent registry, caching scoped instances
// for its own lifetime.
type Scope struct {
	root      *Registry
	mu        sync.Mutex
	instances map[string]interface{}
}

// Resolve returns an instance for the descriptor within this scope.
func (s *Scope) Resolve(descriptor string) (interface{}, bool) {
	s.root.mu.RLock()
	e, ok := s.root.entries[descriptor]
	s.root.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.lifetime != plugin.LifetimeScoped {
		return s.root.Resolve(descriptor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if instance, cached := s.instances[descriptor]; cached {
		return instance, true
	}
	instance, err := e.factory()
	if err != nil {
		return nil, false
	}
	s.instances[descriptor] = instance
	return instance, true
}

// Register delegates to the parent registry.
func (s *Scope) Register(descriptor string, factory func() (interface{}, error), lifetime plugin.Lifetime) error {
	return s.root.Register(descriptor, factory, lifetime)
}

// Unregister delegates to the parent registry and drops the scope's cached
// instance.
func (s *Scope) Unregister(descriptor string) error {
	s.mu.Lock()
	delete(s.instances, descriptor)
	s.mu.Unlock()
	return s.root.Unregister(descriptor)
}
