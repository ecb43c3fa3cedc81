// Package plugin provides the extension half of the kernel: loading,
// dependency ordering, lifecycle management and registry bookkeeping for
// user-supplied plugins.
//
// A plugin implements the Plugin interface and is driven through a fixed
// lifecycle: load -> initialize -> start -> stop -> cleanup. The Engine
// composes the Registry, Resolver, configured Loaders and the
// LifecycleManager into the batch flow, fanning lifecycle notifications out
// through a single hook callback.
package plugin

import (
	"context"
	"sync"
	"time"
)

// State is the observable lifecycle state of a plugin. The plugin itself
// advances its state after each successful lifecycle call; the engine
// observes it and marks Failed on errors.
type State string

// Plugin lifecycle states.
const (
	StateRegistered State = "registered"
	StateLoaded     State = "loaded"
	StateActive     State = "active"
	StateSuspended  State = "suspended"
	StateFailed     State = "failed"
	StateUnloaded   State = "unloaded"
)

// CanTransitionTo reports whether the move from s to next is legal.
// Failed is reachable from anywhere; Unloaded is reachable from Loaded,
// Suspended and Failed.
func (s State) CanTransitionTo(next State) bool {
	if next == StateFailed {
		return true
	}
	switch s {
	case StateRegistered:
		return next == StateLoaded
	case StateLoaded:
		return next == StateActive || next == StateUnloaded
	case StateActive:
		return next == StateSuspended
	case StateSuspended:
		return next == StateUnloaded
	case StateFailed:
		return next == StateUnloaded
	default:
		return false
	}
}

// Type partitions plugins into load tiers: system plugins start before
// library plugins, which start before user plugins.
type Type string

// Plugin types in load order.
const (
	TypeSystem  Type = "system"
	TypeLibrary Type = "library"
	TypeUser    Type = "user"
)

// rank returns the load-order rank of the type; lower starts earlier.
// Unknown types rank with user plugins.
func (t Type) rank() int {
	switch t {
	case TypeSystem:
		return 0
	case TypeLibrary:
		return 1
	default:
		return 2
	}
}

// Metadata describes a plugin for registries and diagnostics.
type Metadata struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Version      string   `json:"version,omitempty" yaml:"version" toml:"version"`
	Description  string   `json:"description,omitempty" yaml:"description" toml:"description"`
	Author       string   `json:"author,omitempty" yaml:"author" toml:"author"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies" toml:"dependencies"`
}

// Health is a plugin's self-reported health.
type Health struct {
	Status    string                 `json:"status"` // "healthy" or "unhealthy"
	Healthy   bool                   `json:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthyReport returns a healthy report stamped now.
func HealthyReport() Health {
	return Health{Status: "healthy", Healthy: true, Timestamp: time.Now()}
}

// UnhealthyReport returns an unhealthy report stamped now with the reason
// in the details.
func UnhealthyReport(reason string) Health {
	return Health{
		Status:    "unhealthy",
		Healthy:   false,
		Timestamp: time.Now(),
		Details:   map[string]interface{}{"reason": reason},
	}
}

// Lookup exposes the registry to plugins during initialization so a plugin
// can reach the dependencies that initialized before it.
type Lookup interface {
	// GetPlugin returns a loaded plugin by id.
	GetPlugin(id string) (Plugin, bool)
}

// Lifetime selects how the service registry materializes instances for a
// descriptor.
type Lifetime string

// Service lifetimes.
const (
	LifetimeSingleton Lifetime = "singleton"
	LifetimeTransient Lifetime = "transient"
	LifetimeScoped    Lifetime = "scoped"
)

// ServiceRegistry is the service access contract handed to plugins at
// start. The engine treats it opaquely.
type ServiceRegistry interface {
	// Register binds a factory to a descriptor with the given lifetime.
	Register(descriptor string, factory func() (interface{}, error), lifetime Lifetime) error

	// Resolve returns an instance for the descriptor. The second return is
	// false when the descriptor is unknown or the factory failed.
	Resolve(descriptor string) (interface{}, bool)

	// Unregister removes the descriptor and any cached instance.
	Unregister(descriptor string) error
}

// Plugin is the contract every extension unit implements.
//
// After a successful lifecycle call the plugin must have advanced its own
// observable state to the expected next state: Loaded after Initialize,
// Active after Start, Suspended after Stop, Unloaded after Cleanup.
// Non-advancement is logged as a warning but is not a hard failure.
type Plugin interface {
	// ID returns the unique plugin identifier.
	ID() string

	// State returns the current lifecycle state.
	State() State

	// SetState sets the lifecycle state. Called by the plugin itself when
	// advancing, and by the engine to mark failures.
	SetState(state State)

	// Metadata returns the plugin's descriptive metadata.
	Metadata() Metadata

	// Initialize prepares the plugin. The lookup gives access to plugins
	// that initialized earlier in the startup order.
	Initialize(ctx context.Context, cfg Config, lookup Lookup) error

	// Start begins runtime operation with access to the shared services.
	Start(ctx context.Context, services ServiceRegistry) error

	// Stop suspends runtime operation.
	Stop(ctx context.Context) error

	// Cleanup releases resources. Always invoked, regardless of state.
	Cleanup(ctx context.Context)

	// Health returns the plugin's self-reported health.
	Health() Health
}

// Base carries the id, state and metadata bookkeeping of the Plugin
// contract so concrete plugins only implement behavior. Embed it and call
// SetState from the lifecycle methods.
type Base struct {
	mu    sync.RWMutex
	state State
	meta  Metadata
}

// NewBase creates plugin bookkeeping in the Registered state.
func NewBase(meta Metadata) Base {
	return Base{state: StateRegistered, meta: meta}
}

// ID returns the metadata id.
func (b *Base) ID() string { return b.meta.ID }

// State returns the current lifecycle state.
func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// SetState sets the lifecycle state.
func (b *Base) SetState(state State) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// Metadata returns the plugin metadata.
func (b *Base) Metadata() Metadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.meta
}
