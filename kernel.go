// Package kernel provides an embeddable in-process application kernel
// composed of two tightly-coupled subsystems: an event hub (priority
// topics, point-to-point queues, subscriber retry, bounded retention) and
// a plugin engine (loading, dependency ordering, lifecycle management,
// service registry access). The ApplicationContext orchestrates the two
// under one phase machine and bridges events between them.
//
// Basic usage:
//
//	app := kernel.NewApplicationContext(
//		kernel.WithLogger(kernel.NewSlogLogger(nil)),
//		kernel.WithLoaders(loader),
//		kernel.WithPluginConfigs(configs...),
//	)
//	if err := app.Initialize(ctx); err != nil {
//		log.Fatal(err)
//	}
//	if err := app.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer app.Stop(context.Background())
package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/kernel/eventhub"
	"github.com/GoCodeAlone/kernel/plugin"
)

// ApplicationContext owns the event hub and the plugin engine, enforcing
// the application phase machine across both. At startup the hub comes up
// before the engine; shutdown reverses the order. Children never hold a
// reference back to the context; cross-subsystem messaging flows through
// the hub.
type ApplicationContext struct {
	logger Logger

	hub    *eventhub.EventHub
	engine *plugin.Engine
	bridge *bridge
	health *healthTracker

	pluginConfigs []plugin.Config
	loaders       []plugin.Loader
	services      plugin.ServiceRegistry
	userHook      plugin.Hook
	hubConfig     eventhub.Config

	mu            sync.Mutex
	phase         Phase
	transitioning atomic.Bool
}

// Option configures an ApplicationContext.
type Option func(*ApplicationContext)

// WithLogger sets the kernel logger.
func WithLogger(logger Logger) Option {
	return func(a *ApplicationContext) { a.logger = logger }
}

// WithPluginConfigs sets the plugin set the engine initializes with.
func WithPluginConfigs(configs ...plugin.Config) Option {
	return func(a *ApplicationContext) { a.pluginConfigs = configs }
}

// WithLoaders sets the plugin loader strategies, tried in order.
func WithLoaders(loaders ...plugin.Loader) Option {
	return func(a *ApplicationContext) { a.loaders = loaders }
}

// WithServiceRegistry sets the service registry handed to plugins.
func WithServiceRegistry(services plugin.ServiceRegistry) Option {
	return func(a *ApplicationContext) { a.services = services }
}

// WithHubConfig pre-declares topics and queues created at hub start.
func WithHubConfig(cfg eventhub.Config) Option {
	return func(a *ApplicationContext) { a.hubConfig = cfg }
}

// WithLifecycleHook chains a caller hook after the bridge's own, observing
// every engine lifecycle phase.
func WithLifecycleHook(hook plugin.Hook) Option {
	return func(a *ApplicationContext) { a.userHook = hook }
}

// NewApplicationContext builds a kernel in the Uninitialized phase.
func NewApplicationContext(opts ...Option) *ApplicationContext {
	a := &ApplicationContext{
		logger: NopLogger(),
		phase:  PhaseUninitialized,
		health: newHealthTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.hub = eventhub.NewEventHub(a.hubConfig, a.logger)
	a.bridge = newBridge(a.hub, a.logger)

	bridgeHook := a.bridge.engineHook()
	hook := bridgeHook
	if a.userHook != nil {
		user := a.userHook
		hook = func(phase plugin.HookPhase, pluginID string, p plugin.Plugin, err error) {
			bridgeHook(phase, pluginID, p, err)
			user(phase, pluginID, p, err)
		}
	}

	a.engine = plugin.NewEngine(
		plugin.WithLoaders(a.loaders...),
		plugin.WithHook(hook),
		plugin.WithServiceRegistry(a.services),
		plugin.WithLogger(a.logger),
	)
	return a
}

// EventHub returns the owned event hub.
func (a *ApplicationContext) EventHub() *eventhub.EventHub { return a.hub }

// Engine returns the owned plugin engine.
func (a *ApplicationContext) Engine() *plugin.Engine { return a.engine }

// Phase returns the current application phase.
func (a *ApplicationContext) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

// Health returns a snapshot of the per-subsystem health map.
func (a *ApplicationContext) Health() map[string]SubsystemHealth {
	return a.health.snapshot()
}

// OnContextEvent registers an engine-side listener for context: events
// crossing the bridge.
func (a *ApplicationContext) OnContextEvent(listener ContextEventListener) {
	a.bridge.addListener(listener)
}

// beginTransition claims the single transition slot. A concurrent attempt
// is dropped and logged, never queued.
func (a *ApplicationContext) beginTransition(operation string) error {
	if !a.transitioning.CompareAndSwap(false, true) {
		a.logger.Warn("Concurrent phase transition dropped", "operation", operation)
		return fmt.Errorf("%w: %s", ErrPhaseTransitionInProgress, operation)
	}
	return nil
}

func (a *ApplicationContext) endTransition() {
	a.transitioning.Store(false)
}

// step advances the phase, validating legality. Caller holds the
// transition slot.
func (a *ApplicationContext) step(next Phase) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.phase.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidPhaseTransition, a.phase, next)
	}
	a.logger.Debug("Application phase transition", "from", string(a.phase), "to", string(next))
	a.phase = next
	return nil
}

// fail drives the context to Failed, recording the error against the
// given subsystem and emitting a context:failed event when the hub is up.
func (a *ApplicationContext) fail(subsystem string, err error) {
	a.mu.Lock()
	a.phase = PhaseFailed
	a.mu.Unlock()
	a.health.recordError(subsystem, err)
	a.health.recordError(HealthKeyApplication, err)
	a.emitContextEvent(EventTypeContextFailed, map[string]interface{}{
		"subsystem": subsystem,
		"error":     err.Error(),
	})
}

// Initialize drives Uninitialized (or Failed/Stopped, for recovery and
// restart) through ConfigurationLoading and PluginManagerSetup to Ready:
// the hub starts, the bridge attaches, and the engine loads and
// initializes every enabled plugin.
func (a *ApplicationContext) Initialize(ctx context.Context) error {
	if err := a.beginTransition("initialize"); err != nil {
		return err
	}
	defer a.endTransition()

	recovering := a.Phase() == PhaseFailed
	if err := a.step(PhaseConfigurationLoading); err != nil {
		return err
	}

	// A failed attempt can leave the hub running; restart it from scratch.
	if recovering && a.hub.Started() {
		a.bridge.detach()
		if err := a.hub.Stop(ctx); err != nil {
			a.health.recordError(HealthKeyEventHub, err)
		}
	}

	if err := a.hub.Start(ctx); err != nil {
		a.fail(HealthKeyEventHub, err)
		return fmt.Errorf("initializing event hub: %w", err)
	}
	if err := a.bridge.attach(); err != nil {
		a.fail(HealthKeyEventHub, err)
		return err
	}
	a.health.markHealthy(HealthKeyEventHub)

	if err := a.step(PhasePluginManagerSetup); err != nil {
		return err
	}
	if err := a.engine.Initialize(ctx, a.pluginConfigs); err != nil {
		a.fail(HealthKeyPluginEngine, err)
		return fmt.Errorf("initializing plugin engine: %w", err)
	}
	a.health.markHealthy(HealthKeyPluginEngine)

	if err := a.step(PhaseReady); err != nil {
		return err
	}
	a.health.markHealthy(HealthKeyApplication)

	if recovering {
		a.emitContextEvent(EventTypeContextRecovered, nil)
	}
	a.emitContextEvent(EventTypeContextInitialized, nil)
	a.logger.Info("Application context initialized",
		"plugins", a.engine.Registry().Count(), "topics", a.hub.Topics().Count())
	return nil
}

// Start moves Ready to Running, starting every initialized plugin in
// dependency order.
func (a *ApplicationContext) Start(ctx context.Context) error {
	if err := a.beginTransition("start"); err != nil {
		return err
	}
	defer a.endTransition()

	if a.Phase() != PhaseReady {
		return fmt.Errorf("%w: phase is %s", ErrContextNotReady, a.Phase())
	}
	if err := a.engine.Start(ctx); err != nil {
		a.fail(HealthKeyPluginEngine, err)
		return fmt.Errorf("starting plugin engine: %w", err)
	}
	if err := a.step(PhaseRunning); err != nil {
		return err
	}
	a.health.markHealthy(HealthKeyApplication)
	a.emitContextEvent(EventTypeContextStarted, nil)
	a.logger.Info("Application context started")
	return nil
}

// Stop moves Running to Stopped: the engine stops and cleans up first, in
// reverse dependency order, then the hub shuts down. Best-effort failures
// are recorded in the health map but do not abort the shutdown.
func (a *ApplicationContext) Stop(ctx context.Context) error {
	if err := a.beginTransition("stop"); err != nil {
		return err
	}
	defer a.endTransition()

	if a.Phase() != PhaseRunning {
		return fmt.Errorf("%w: phase is %s", ErrContextNotRunning, a.Phase())
	}

	if err := a.engine.Stop(ctx); err != nil {
		a.health.recordError(HealthKeyPluginEngine, err)
	}
	if err := a.engine.Cleanup(ctx); err != nil {
		a.health.recordError(HealthKeyPluginEngine, err)
	}

	// The stopped event must leave before the hub goes away.
	a.emitContextEvent(EventTypeContextStopped, nil)
	a.bridge.detach()
	if err := a.hub.Stop(ctx); err != nil {
		a.health.recordError(HealthKeyEventHub, err)
	}

	if err := a.step(PhaseStopped); err != nil {
		return err
	}
	a.logger.Info("Application context stopped")
	return nil
}

// CheckHealth refreshes the health map from live subsystem state and
// returns the snapshot.
func (a *ApplicationContext) CheckHealth() map[string]SubsystemHealth {
	if a.hub.Started() {
		a.health.markHealthy(HealthKeyEventHub)
	}
	switch a.engine.State() {
	case plugin.EngineRunning, plugin.EngineInitializing:
		a.health.markHealthy(HealthKeyPluginEngine)
	}
	if phase := a.Phase(); phase != PhaseFailed {
		a.health.markHealthy(HealthKeyApplication)
	}
	return a.health.snapshot()
}

// emitContextEvent publishes a context: event on the hub, marked with the
// context origin so the bridge does not re-forward it to the hub again.
func (a *ApplicationContext) emitContextEvent(eventType string, data map[string]interface{}) {
	if !a.hub.Started() {
		return
	}
	event := eventhub.NewEvent(eventType,
		NewCloudEvent(eventType, "kernel/application-context", data, nil),
		eventhub.PriorityNormal,
		map[string]interface{}{metadataBridgeKey: bridgeOriginContext})
	if err := a.hub.Emit(context.Background(), event); err != nil {
		a.logger.Debug("Context event emit failed", "type", eventType, "error", err)
	}
}
