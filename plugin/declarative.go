package plugin

import "context"

// DeclarativeSpec is the serialized form of a data-only plugin, as read
// from filesystem instance descriptors.
type DeclarativeSpec struct {
	ID           string                 `json:"id" yaml:"id" toml:"id"`
	Name         string                 `json:"name" yaml:"name" toml:"name"`
	Version      string                 `json:"version,omitempty" yaml:"version" toml:"version"`
	Description  string                 `json:"description,omitempty" yaml:"description" toml:"description"`
	Author       string                 `json:"author,omitempty" yaml:"author" toml:"author"`
	Dependencies []string               `json:"dependencies,omitempty" yaml:"dependencies" toml:"dependencies"`
	Config       map[string]interface{} `json:"config,omitempty" yaml:"config" toml:"config"`
}

// Declarative is a plugin with no behavior of its own: every lifecycle call
// succeeds and advances the state. It lets data-only plugins ship as
// descriptor files and still participate in dependency ordering and
// lifecycle bookkeeping.
type Declarative struct {
	Base
	spec DeclarativeSpec
}

// NewDeclarative builds a declarative plugin from its spec.
func NewDeclarative(spec DeclarativeSpec) *Declarative {
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return &Declarative{
		Base: NewBase(Metadata{
			ID:           spec.ID,
			Name:         name,
			Version:      spec.Version,
			Description:  spec.Description,
			Author:       spec.Author,
			Dependencies: spec.Dependencies,
		}),
		spec: spec,
	}
}

// Spec returns the descriptor the plugin was built from.
func (d *Declarative) Spec() DeclarativeSpec { return d.spec }

// Initialize implements Plugin.
func (d *Declarative) Initialize(_ context.Context, _ Config, _ Lookup) error {
	d.SetState(StateLoaded)
	return nil
}

// Start implements Plugin.
func (d *Declarative) Start(_ context.Context, _ ServiceRegistry) error {
	d.SetState(StateActive)
	return nil
}

// Stop implements Plugin.
func (d *Declarative) Stop(_ context.Context) error {
	d.SetState(StateSuspended)
	return nil
}

// Cleanup implements Plugin.
func (d *Declarative) Cleanup(_ context.Context) {
	d.SetState(StateUnloaded)
}

// Health implements Plugin.
func (d *Declarative) Health() Health { return HealthyReport() }
