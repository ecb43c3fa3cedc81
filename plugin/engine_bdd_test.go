package plugin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"
)

// Engine BDD test context
type engineBDDTestContext struct {
	loader   *RuntimeLoader
	engine   *Engine
	plugins  map[string]*testPlugin
	configs  []Config
	initErr  error
	mu       sync.Mutex
	failures map[string][]error
}

func (ctx *engineBDDTestContext) reset() {
	ctx.loader = NewRuntimeLoader()
	ctx.engine = nil
	ctx.plugins = make(map[string]*testPlugin)
	ctx.configs = nil
	ctx.initErr = nil
	ctx.failures = make(map[string][]error)
}

func (ctx *engineBDDTestContext) aPluginEngineWithARuntimeLoader() error {
	ctx.reset()
	return nil
}

func (ctx *engineBDDTestContext) register(id string, deps ...string) error {
	p := newTestPlugin(id)
	if err := ctx.loader.RegisterInstance(p); err != nil {
		return err
	}
	ctx.plugins[id] = p
	ctx.configs = append(ctx.configs, Config{ID: id, Dependencies: deps})
	return nil
}

func (ctx *engineBDDTestContext) aRegisteredPlugin(id string) error {
	return ctx.register(id)
}

func (ctx *engineBDDTestContext) aRegisteredPluginDependingOn(id, dep string) error {
	return ctx.register(id, dep)
}

func (ctx *engineBDDTestContext) aRegisteredPluginThatFailsToStart(id string) error {
	if err := ctx.register(id); err != nil {
		return err
	}
	ctx.plugins[id].startErr = errBoom
	return nil
}

func (ctx *engineBDDTestContext) buildEngine() {
	ctx.engine = NewEngine(
		WithLoaders(ctx.loader),
		WithHook(func(_ HookPhase, pluginID string, _ Plugin, err error) {
			if err == nil {
				return
			}
			ctx.mu.Lock()
			ctx.failures[pluginID] = append(ctx.failures[pluginID], err)
			ctx.mu.Unlock()
		}),
	)
}

func (ctx *engineBDDTestContext) theEngineIsInitialized() error {
	ctx.buildEngine()
	ctx.initErr = ctx.engine.Initialize(context.Background(), ctx.configs)
	return nil
}

func (ctx *engineBDDTestContext) theEngineIsStarted() error {
	if ctx.initErr != nil {
		return fmt.Errorf("initialize failed earlier: %w", ctx.initErr)
	}
	return ctx.engine.Start(context.Background())
}

func (ctx *engineBDDTestContext) theEngineIsStopped() error {
	return ctx.engine.Stop(context.Background())
}

func (ctx *engineBDDTestContext) theEngineIsCleanedUp() error {
	return ctx.engine.Cleanup(context.Background())
}

func (ctx *engineBDDTestContext) theStartupOrderShouldBe(expected string) error {
	got := ""
	for i, id := range ctx.engine.StartupOrder() {
		if i > 0 {
			got += ","
		}
		got += id
	}
	if got != expected {
		return fmt.Errorf("expected startup order %q, got %q", expected, got)
	}
	return nil
}

func (ctx *engineBDDTestContext) thePluginShouldBeInState(id, state string) error {
	p, ok := ctx.plugins[id]
	if !ok {
		return fmt.Errorf("unknown plugin %s", id)
	}
	if string(p.State()) != state {
		return fmt.Errorf("expected plugin %s in state %s, got %s", id, state, p.State())
	}
	return nil
}

func (ctx *engineBDDTestContext) theLifecycleHookShouldHaveRecordedAFailureFor(id string) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if len(ctx.failures[id]) == 0 {
		return fmt.Errorf("no hook failure recorded for %s", id)
	}
	return nil
}

func (ctx *engineBDDTestContext) initializationShouldFailWithCode(code string) error {
	if ctx.initErr == nil {
		return fmt.Errorf("expected initialization to fail with %s", code)
	}
	if !IsCode(ctx.initErr, ErrorCode(code)) {
		return fmt.Errorf("expected code %s, got %v", code, ctx.initErr)
	}
	return nil
}

func (ctx *engineBDDTestContext) theRegistryShouldBeEmpty() error {
	if count := ctx.engine.Registry().Count(); count != 0 {
		return fmt.Errorf("expected empty registry, found %d plugins", count)
	}
	return nil
}

func (ctx *engineBDDTestContext) theEngineShouldBeStopped() error {
	if state := ctx.engine.State(); state != EngineStopped {
		return fmt.Errorf("expected engine stopped, got %s", state)
	}
	return nil
}

// TestPluginEngineBDD runs the BDD tests for the plugin engine
func TestPluginEngineBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(sc *godog.ScenarioContext) {
			testCtx := &engineBDDTestContext{}

			sc.Given(`^a plugin engine with a runtime loader$`, testCtx.aPluginEngineWithARuntimeLoader)
			sc.Given(`^a registered plugin "([^"]*)"$`, testCtx.aRegisteredPlugin)
			sc.Given(`^a registered plugin "([^"]*)" depending on "([^"]*)"$`, testCtx.aRegisteredPluginDependingOn)
			sc.Given(`^a registered plugin "([^"]*)" that fails to start$`, testCtx.aRegisteredPluginThatFailsToStart)

			sc.When(`^the engine is initialized$`, testCtx.theEngineIsInitialized)
			sc.When(`^the engine is started$`, testCtx.theEngineIsStarted)
			sc.When(`^the engine is stopped$`, testCtx.theEngineIsStopped)
			sc.When(`^the engine is cleaned up$`, testCtx.theEngineIsCleanedUp)

			sc.Then(`^the startup order should be "([^"]*)"$`, testCtx.theStartupOrderShouldBe)
			sc.Then(`^the plugin "([^"]*)" should be in state "([^"]*)"$`, testCtx.thePluginShouldBeInState)
			sc.Then(`^the lifecycle hook should have recorded a failure for "([^"]*)"$`, testCtx.theLifecycleHookShouldHaveRecordedAFailureFor)
			sc.Then(`^initialization should fail with code "([^"]*)"$`, testCtx.initializationShouldFailWithCode)
			sc.Then(`^the registry should be empty$`, testCtx.theRegistryShouldBeEmpty)
			sc.Then(`^the engine should be stopped$`, testCtx.theEngineShouldBeStopped)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
