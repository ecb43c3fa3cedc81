package plugin

import (
	"context"
	"fmt"
	"time"
)

// OperationResult records one guarded lifecycle call into a plugin.
type OperationResult struct {
	PluginID      string
	Success       bool
	PreviousState State
	NewState      State
	Duration      time.Duration
	Err           error
}

// BatchResult aggregates a sequential lifecycle pass over several plugins.
type BatchResult struct {
	Total        int
	SuccessCount int
	FailureCount int
	Results      []OperationResult
	Duration     time.Duration
}

// FailureCallback receives per-plugin lifecycle failures as they occur.
type FailureCallback func(pluginID, operation string, err error)

// LifecycleManager drives guarded state transitions into individual
// plugins. Each operation checks the plugin's current state against the
// operation's precondition before invoking it, times the call, converts
// panics into errors, and observes the state the plugin advanced to.
// Advancing is the plugin's job; a plugin that succeeds without advancing
// is logged as buggy but not failed.
type LifecycleManager struct {
	logger    Logger
	onFailure FailureCallback
}

// NewLifecycleManager creates a manager. onFailure may be nil.
func NewLifecycleManager(logger Logger, onFailure FailureCallback) *LifecycleManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &LifecycleManager{logger: logger, onFailure: onFailure}
}

// Lifecycle operation names used in results, hooks and errors.
const (
	OpInitialize = "initialize"
	OpStart      = "start"
	OpStop       = "stop"
	OpCleanup    = "cleanup"
)

// expectedAfter maps an operation to the state a well-behaved plugin
// advances to on success.
func expectedAfter(operation string) State {
	switch operation {
	case OpInitialize:
		return StateLoaded
	case OpStart:
		return StateActive
	case OpStop:
		return StateSuspended
	default:
		return StateUnloaded
	}
}

// precondition returns the state an operation requires, or "" when any
// state is acceptable.
func precondition(operation string) State {
	switch operation {
	case OpInitialize:
		return StateRegistered
	case OpStart:
		return StateLoaded
	case OpStop:
		return StateActive
	default:
		return ""
	}
}

// Initialize runs the plugin's Initialize with the registered-state guard.
func (m *LifecycleManager) Initialize(ctx context.Context, info *LoadInfo, lookup Lookup) OperationResult {
	return m.run(ctx, info, OpInitialize, func(ctx context.Context, p Plugin) error {
		return p.Initialize(ctx, info.Config, lookup)
	})
}

// Start runs the plugin's Start with the loaded-state guard.
func (m *LifecycleManager) Start(ctx context.Context, info *LoadInfo, services ServiceRegistry) OperationResult {
	return m.run(ctx, info, OpStart, func(ctx context.Context, p Plugin) error {
		return p.Start(ctx, services)
	})
}

// Stop runs the plugin's Stop with the active-state guard.
func (m *LifecycleManager) Stop(ctx context.Context, info *LoadInfo) OperationResult {
	return m.run(ctx, info, OpStop, func(ctx context.Context, p Plugin) error {
		return p.Stop(ctx)
	})
}

// Cleanup runs the plugin's Cleanup. Always permitted, best effort.
func (m *LifecycleManager) Cleanup(ctx context.Context, info *LoadInfo) OperationResult {
	return m.run(ctx, info, OpCleanup, func(ctx context.Context, p Plugin) error {
		p.Cleanup(ctx)
		return nil
	})
}

// run is the shared guarded invocation path.
func (m *LifecycleManager) run(ctx context.Context, info *LoadInfo, operation string, invoke func(context.Context, Plugin) error) OperationResult {
	p := info.Plugin
	previous := p.State()
	result := OperationResult{PluginID: p.ID(), PreviousState: previous, NewState: previous}

	if required := precondition(operation); required != "" && previous != required {
		result.Err = NewError(CodeInvalidStateTransition,
			fmt.Sprintf("%s requires state %s, plugin is %s", operation, required, previous)).
			WithPlugin(p.ID()).WithOperation(operation, operation)
		m.reportFailure(p.ID(), operation, result.Err)
		return result
	}

	start := time.Now()
	err := invokeGuarded(ctx, p, invoke)
	result.Duration = time.Since(start)
	result.NewState = p.State()

	if err != nil {
		result.Err = wrapOperationError(operation, p.ID(), err)
		m.reportFailure(p.ID(), operation, result.Err)
		return result
	}

	result.Success = true
	if expected := expectedAfter(operation); result.NewState != expected {
		m.logger.Warn("Plugin did not advance state after successful call",
			"plugin", p.ID(), "operation", operation,
			"state", result.NewState, "expected", expected)
	}
	return result
}

// invokeGuarded calls into the plugin, converting a panic into an error so
// user code can never unwind through the engine.
func invokeGuarded(ctx context.Context, p Plugin, invoke func(context.Context, Plugin) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return invoke(ctx, p)
}

// wrapOperationError maps an operation to its error code and wraps the
// cause.
func wrapOperationError(operation, pluginID string, cause error) error {
	var code ErrorCode
	switch operation {
	case OpInitialize:
		code = CodePluginInitializationFailed
	case OpStart:
		code = CodePluginStartFailed
	case OpStop:
		code = CodePluginStopFailed
	default:
		code = CodePluginCleanupFailed
	}
	if pe, ok := cause.(*Error); ok && pe.Code == code {
		return pe
	}
	return NewError(code, fmt.Sprintf("%s failed", operation)).
		WithPlugin(pluginID).WithOperation(operation, operation).WithCause(cause)
}

// reportFailure hands the failure to the configured callback, shielding
// the manager from callback panics.
func (m *LifecycleManager) reportFailure(pluginID, operation string, err error) {
	m.logger.Error("Plugin lifecycle operation failed",
		"plugin", pluginID, "operation", operation, "error", err)
	if m.onFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Lifecycle failure callback panicked", "panic", fmt.Sprintf("%v", r))
		}
	}()
	m.onFailure(pluginID, operation, err)
}

// batch runs one operation across the infos sequentially, honoring
// cancellation at each plugin boundary, and aggregates the outcome.
func (m *LifecycleManager) batch(ctx context.Context, infos []*LoadInfo, op func(context.Context, *LoadInfo) OperationResult) BatchResult {
	start := time.Now()
	batch := BatchResult{Total: len(infos)}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			batch.FailureCount++
			batch.Results = append(batch.Results, OperationResult{
				PluginID:      info.Plugin.ID(),
				PreviousState: info.Plugin.State(),
				NewState:      info.Plugin.State(),
				Err:           fmt.Errorf("lifecycle batch cancelled: %w", err),
			})
			continue
		}
		result := op(ctx, info)
		if result.Success {
			batch.SuccessCount++
		} else {
			batch.FailureCount++
		}
		batch.Results = append(batch.Results, result)
	}
	batch.Duration = time.Since(start)
	return batch
}

// InitializeAll initializes the plugins in the given order.
func (m *LifecycleManager) InitializeAll(ctx context.Context, infos []*LoadInfo, lookup Lookup) BatchResult {
	return m.batch(ctx, infos, func(ctx context.Context, info *LoadInfo) OperationResult {
		return m.Initialize(ctx, info, lookup)
	})
}

// StartAll starts the plugins in the given order.
func (m *LifecycleManager) StartAll(ctx context.Context, infos []*LoadInfo, services ServiceRegistry) BatchResult {
	return m.batch(ctx, infos, func(ctx context.Context, info *LoadInfo) OperationResult {
		return m.Start(ctx, info, services)
	})
}

// StopAll stops the plugins in the given order.
func (m *LifecycleManager) StopAll(ctx context.Context, infos []*LoadInfo) BatchResult {
	return m.batch(ctx, infos, m.Stop)
}

// CleanupAll cleans the plugins up in the given order. Every plugin is
// attempted even when earlier ones fail.
func (m *LifecycleManager) CleanupAll(ctx context.Context, infos []*LoadInfo) BatchResult {
	return m.batch(ctx, infos, m.Cleanup)
}
