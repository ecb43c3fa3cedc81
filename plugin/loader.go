package plugin

import "context"

// Loader is a strategy that turns a plugin id and its config into a live
// plugin instance. The engine tries loaders in the order configured and
// uses the first whose CanLoad returns true.
type Loader interface {
	// Name identifies the loader in logs and errors.
	Name() string

	// CanLoad reports whether this loader can produce the plugin.
	CanLoad(id string, cfg Config) bool

	// Load produces the plugin instance.
	Load(ctx context.Context, id string, cfg Config) (Plugin, error)
}

// Factory builds a plugin from its config. Used by the runtime loader and
// by filesystem factory descriptors.
type Factory func(cfg Config) (Plugin, error)

// validateInstance checks the contract surface the loaders require of a
// plugin before handing it to the engine: a non-empty id matching the
// requested one, a state, and metadata carrying the same id.
func validateInstance(id string, p Plugin) error {
	if p == nil {
		return NewError(CodePluginLoadFailed, "loader produced a nil plugin").WithPlugin(id)
	}
	if p.ID() == "" {
		return NewError(CodePluginLoadFailed, "plugin has an empty id").WithPlugin(id)
	}
	if id != "" && p.ID() != id {
		return NewError(CodePluginLoadFailed,
			"plugin id "+p.ID()+" does not match requested id "+id).WithPlugin(id)
	}
	if p.State() == "" {
		return NewError(CodePluginLoadFailed, "plugin has no state").WithPlugin(id)
	}
	if p.Metadata().ID != p.ID() {
		return NewError(CodePluginLoadFailed, "plugin metadata id does not match plugin id").WithPlugin(id)
	}
	return nil
}
