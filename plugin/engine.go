package plugin

import (
	"context"
	"fmt"
	"sync"
)

// EngineState is the plugin engine's lifecycle state.
type EngineState string

// Engine states.
const (
	EngineStopped      EngineState = "stopped"
	EngineInitializing EngineState = "initializing"
	EngineRunning      EngineState = "running"
	EngineStopping     EngineState = "stopping"
)

// HookPhase names the point in the engine flow a lifecycle hook fires for.
type HookPhase string

// Hook phases. Per-plugin phases fire before the corresponding operation
// and again with a non-nil error when it fails; engine phases bracket the
// batch flows.
const (
	HookLoad              HookPhase = "load"
	HookInitialize        HookPhase = "initialize"
	HookStart             HookPhase = "start"
	HookStop              HookPhase = "stop"
	HookCleanup           HookPhase = "cleanup"
	HookEngineInitialize  HookPhase = "engine:initialize"
	HookEngineInitialized HookPhase = "engine:initialized"
	HookEngineStart       HookPhase = "engine:start"
	HookEngineStarted     HookPhase = "engine:started"
	HookEngineStop        HookPhase = "engine:stop"
	HookEngineStopped     HookPhase = "engine:stopped"
	HookEngineCleanup     HookPhase = "engine:cleanup"
	HookEngineCleaned     HookPhase = "engine:cleaned"
)

// Hook observes the engine's lifecycle flow. The plugin argument is nil for
// engine-level phases; err is non-nil when the phase reports a failure.
// Panics inside the hook are caught and logged so they cannot derail the
// engine.
type Hook func(phase HookPhase, pluginID string, p Plugin, err error)

// Engine drives the full plugin flow: load -> initialize -> start -> stop
// -> cleanup. Initialization aborts on the first failing plugin; start,
// stop and cleanup are best-effort and keep going past individual
// failures, reporting them through the hook.
type Engine struct {
	mu    sync.Mutex
	state EngineState

	registry  *Registry
	resolver  *Resolver
	lifecycle *LifecycleManager
	loaders   []Loader
	hook      Hook
	services  ServiceRegistry
	logger    Logger

	startupOrder []string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLoaders sets the loader strategies, tried in order.
func WithLoaders(loaders ...Loader) EngineOption {
	return func(e *Engine) { e.loaders = loaders }
}

// WithHook sets the lifecycle hook.
func WithHook(hook Hook) EngineOption {
	return func(e *Engine) { e.hook = hook }
}

// WithServiceRegistry sets the service registry handed to plugins at start.
func WithServiceRegistry(services ServiceRegistry) EngineOption {
	return func(e *Engine) { e.services = services }
}

// WithLogger sets the engine logger.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a stopped engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		state:    EngineStopped,
		registry: NewRegistry(),
		logger:   NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(e.logger)
	e.lifecycle = NewLifecycleManager(e.logger, nil)
	return e
}

// State returns the engine state.
func (e *Engine) State() EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Registry exposes the plugin registry for inspection.
func (e *Engine) Registry() *Registry { return e.registry }

// Plugin returns a loaded plugin by id.
func (e *Engine) Plugin(id string) (Plugin, bool) { return e.registry.Get(id) }

// StartupOrder returns the resolved startup order. Empty before a
// successful Initialize.
func (e *Engine) StartupOrder() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.startupOrder))
	copy(out, e.startupOrder)
	return out
}

// transition moves the engine state through its single guarded path.
func (e *Engine) transition(from, to EngineState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return NewError(CodeInvalidStateTransition,
			fmt.Sprintf("engine is %s, cannot move to %s", e.state, to)).
			WithEngineState(string(e.state))
	}
	e.state = to
	return nil
}

// forceStopped returns the engine to Stopped from any state.
func (e *Engine) forceStopped() {
	e.mu.Lock()
	e.state = EngineStopped
	e.mu.Unlock()
}

// Initialize loads every enabled config through the first capable loader,
// registers the plugins, resolves the startup order and initializes each
// plugin in that order. The first failure aborts: the engine returns to
// Stopped with failed plugins left registered in the Failed state until
// Cleanup.
func (e *Engine) Initialize(ctx context.Context, configs []Config) error {
	if err := e.transition(EngineStopped, EngineInitializing); err != nil {
		return err
	}
	e.callHook(HookEngineInitialize, "", nil, nil)

	if err := e.initialize(ctx, configs); err != nil {
		e.forceStopped()
		e.callHook(HookEngineInitialize, "", nil, err)
		return err
	}

	e.callHook(HookEngineInitialized, "", nil, nil)
	return nil
}

func (e *Engine) initialize(ctx context.Context, configs []Config) error {
	enabled := make([]Config, 0, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if !cfg.IsEnabled() {
			e.logger.Debug("Plugin disabled, skipping", "plugin", cfg.ID)
			continue
		}
		enabled = append(enabled, cfg)
	}

	// Load and register.
	for _, cfg := range enabled {
		if err := ctx.Err(); err != nil {
			return NewError(CodePluginLoadFailed, "initialization cancelled").WithCause(err)
		}
		p, err := e.load(ctx, cfg)
		if err != nil {
			return err
		}
		p.SetState(StateRegistered)
		if err := e.registry.Register(NewLoadInfo(cfg, p)); err != nil {
			return err
		}
		e.logger.Info("Plugin loaded", "plugin", cfg.ID, "type", cfg.EffectiveType())
	}

	// Resolve order over the registered set.
	resolution, err := e.resolver.Resolve(enabled)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.startupOrder = resolution.StartupOrder
	e.mu.Unlock()

	// Initialize in startup order; abort on first failure.
	lookup := e.registry.Lookup()
	for _, id := range resolution.StartupOrder {
		if err := ctx.Err(); err != nil {
			return NewError(CodePluginInitializationFailed, "initialization cancelled").WithCause(err)
		}
		info, ok := e.registry.Info(id)
		if !ok {
			return NewError(CodePluginNotFound,
				fmt.Sprintf("plugin %s vanished during initialization", id)).WithPlugin(id)
		}
		e.callHook(HookInitialize, id, info.Plugin, nil)
		result := e.lifecycle.Initialize(ctx, info, lookup)
		if !result.Success {
			e.markFailed(info.Plugin, result.PreviousState)
			e.callHook(HookInitialize, id, info.Plugin, result.Err)
			return result.Err
		}
		e.registryStateSync(id, result)
		e.logger.Info("Plugin initialized", "plugin", id, "duration", result.Duration)
	}
	return nil
}

// load finds the first loader claiming the config and runs it, wrapping
// loader failures as PluginLoadFailed with the loader error as cause.
func (e *Engine) load(ctx context.Context, cfg Config) (Plugin, error) {
	e.callHook(HookLoad, cfg.ID, nil, nil)
	for _, loader := range e.loaders {
		if !loader.CanLoad(cfg.ID, cfg) {
			continue
		}
		p, err := loader.Load(ctx, cfg.ID, cfg)
		if err != nil {
			loadErr := NewError(CodePluginLoadFailed,
				fmt.Sprintf("loader %s failed for %s", loader.Name(), cfg.ID)).
				WithPlugin(cfg.ID).WithCause(err)
			e.callHook(HookLoad, cfg.ID, nil, loadErr)
			return nil, loadErr
		}
		return p, nil
	}
	err := NewError(CodePluginLoadFailed,
		fmt.Sprintf("no loader can load %s", cfg.ID)).WithPlugin(cfg.ID).
		WithSuggestions("register the plugin with a runtime loader",
			"check the filesystem loader base directory")
	e.callHook(HookLoad, cfg.ID, nil, err)
	return nil, err
}

// Start starts every initialized plugin in startup order. Individual
// failures are logged and reported through the hook but never abort the
// batch; the failing plugin is marked Failed and the engine continues.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transition(EngineInitializing, EngineRunning); err != nil {
		if e.State() == EngineStopped {
			return NewError(CodeEngineNotInitialized, "engine must be initialized before start")
		}
		return err
	}
	e.callHook(HookEngineStart, "", nil, nil)

	for _, id := range e.StartupOrder() {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("Start cancelled", "error", err)
			break
		}
		info, ok := e.registry.Info(id)
		if !ok || info.Plugin.State() != StateLoaded {
			continue
		}
		e.callHook(HookStart, id, info.Plugin, nil)
		result := e.lifecycle.Start(ctx, info, e.services)
		if !result.Success {
			e.markFailed(info.Plugin, result.PreviousState)
			e.callHook(HookStart, id, info.Plugin, result.Err)
			continue
		}
		e.registryStateSync(id, result)
		e.logger.Info("Plugin started", "plugin", id, "duration", result.Duration)
	}

	e.callHook(HookEngineStarted, "", nil, nil)
	return nil
}

// Stop stops the currently active plugins in reverse startup order.
// Best-effort: individual failures mark the plugin Failed and the batch
// continues. The engine finishes Stopped.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.transition(EngineRunning, EngineStopping); err != nil {
		return err
	}
	e.callHook(HookEngineStop, "", nil, nil)

	order := e.StartupOrder()
	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			e.logger.Warn("Stop cancelled", "error", err)
			break
		}
		id := order[i]
		info, ok := e.registry.Info(id)
		if !ok || info.Plugin.State() != StateActive {
			continue
		}
		e.callHook(HookStop, id, info.Plugin, nil)
		result := e.lifecycle.Stop(ctx, info)
		if !result.Success {
			e.markFailed(info.Plugin, result.PreviousState)
			e.callHook(HookStop, id, info.Plugin, result.Err)
			continue
		}
		e.registryStateSync(id, result)
		e.logger.Info("Plugin stopped", "plugin", id, "duration", result.Duration)
	}

	e.forceStopped()
	e.callHook(HookEngineStopped, "", nil, nil)
	return nil
}

// Cleanup releases every loaded plugin in reverse startup order, then
// clears the registry and the order and returns the engine to Stopped.
// Permitted from any state and idempotent.
func (e *Engine) Cleanup(ctx context.Context) error {
	e.callHook(HookEngineCleanup, "", nil, nil)

	order := e.StartupOrder()
	seen := make(map[string]struct{}, len(order))
	infos := make([]*LoadInfo, 0, e.registry.Count())
	for i := len(order) - 1; i >= 0; i-- {
		if info, ok := e.registry.Info(order[i]); ok {
			infos = append(infos, info)
			seen[order[i]] = struct{}{}
		}
	}
	// Plugins registered but never ordered (load succeeded, resolution
	// failed) still get cleaned up.
	for _, id := range e.registry.IDs() {
		if _, ok := seen[id]; ok {
			continue
		}
		if info, ok := e.registry.Info(id); ok {
			infos = append(infos, info)
		}
	}

	for _, info := range infos {
		id := info.Plugin.ID()
		e.callHook(HookCleanup, id, info.Plugin, nil)
		result := e.lifecycle.Cleanup(ctx, info)
		if !result.Success {
			e.callHook(HookCleanup, id, info.Plugin, result.Err)
		}
	}

	e.registry.Clear()
	e.mu.Lock()
	e.startupOrder = nil
	e.mu.Unlock()
	e.forceStopped()
	e.callHook(HookEngineCleaned, "", nil, nil)
	return nil
}

// markFailed records a plugin failure in the plugin and both registry
// indices.
func (e *Engine) markFailed(p Plugin, previous State) {
	p.SetState(StateFailed)
	if err := e.registry.UpdateState(p.ID(), previous, StateFailed); err != nil {
		e.logger.Debug("Registry state sync after failure", "plugin", p.ID(), "error", err)
	}
}

// registryStateSync mirrors a successful transition into the registry's
// state index.
func (e *Engine) registryStateSync(id string, result OperationResult) {
	if result.PreviousState == result.NewState {
		return
	}
	if err := e.registry.UpdateState(id, result.PreviousState, result.NewState); err != nil {
		e.logger.Debug("Registry state sync", "plugin", id, "error", err)
	}
}

// callHook invokes the lifecycle hook, shielding the engine from hook
// panics.
func (e *Engine) callHook(phase HookPhase, pluginID string, p Plugin, err error) {
	if e.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Lifecycle hook panicked", "phase", string(phase), "panic", fmt.Sprintf("%v", r))
		}
	}()
	e.hook(phase, pluginID, p, err)
}
