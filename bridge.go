package kernel

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/GoCodeAlone/kernel/eventhub"
	"github.com/GoCodeAlone/kernel/plugin"
)

// Bridge origin markers. Events carry the subsystem they entered the
// bridge from so they are never propagated back to it.
const (
	bridgeOriginEngine  = "pluginEngine"
	bridgeOriginContext = "applicationContext"
	metadataBridgeKey   = "bridgeOrigin"
)

// ContextEventListener receives context: events forwarded to the plugin
// engine side of the bridge.
type ContextEventListener func(ctx context.Context, event eventhub.Event)

// bridge forwards selected events between the kernel's subsystems:
// plugin lifecycle events always propagate to the event hub, and hub
// events whose type begins with context: propagate to listeners on the
// plugin engine side. Back-propagation to the origin subsystem is
// rejected to prevent loops.
type bridge struct {
	hub    *eventhub.EventHub
	logger Logger

	mu        sync.RWMutex
	listeners []ContextEventListener
	hubSub    *eventhub.Subscription
}

func newBridge(hub *eventhub.EventHub, logger Logger) *bridge {
	return &bridge{hub: hub, logger: logger}
}

// attach installs the hub-side wildcard subscriber.
func (b *bridge) attach() error {
	sub, err := b.hub.SubscribeAll(b.onHubEvent, eventhub.SubscribeOptions{
		Filter: func(event eventhub.Event) bool {
			return strings.HasPrefix(event.Type, ContextEventPrefix)
		},
	})
	if err != nil {
		return fmt.Errorf("attaching context bridge: %w", err)
	}
	b.mu.Lock()
	b.hubSub = sub
	b.mu.Unlock()
	return nil
}

// detach removes the hub-side subscriber, ignoring the already-cleared
// case (hub stop drops wildcard subscribers itself).
func (b *bridge) detach() {
	b.mu.Lock()
	sub := b.hubSub
	b.hubSub = nil
	b.mu.Unlock()
	if sub != nil {
		_ = sub.Cancel()
	}
}

// addListener registers an engine-side listener for context: events.
func (b *bridge) addListener(listener ContextEventListener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, listener)
	b.mu.Unlock()
}

// onHubEvent forwards context: events from the hub to the engine side.
func (b *bridge) onHubEvent(ctx context.Context, event eventhub.Event) error {
	if origin, _ := event.Metadata[metadataBridgeKey].(string); origin == bridgeOriginEngine {
		// The engine side originated this event; do not hand it back.
		return nil
	}

	b.mu.RLock()
	listeners := append([]ContextEventListener(nil), b.listeners...)
	b.mu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, event)
	}
	return nil
}

// engineHook converts plugin engine lifecycle callbacks into plugin:
// events on the hub. CloudEvents payloads keep the events portable across
// broker ports.
func (b *bridge) engineHook() plugin.Hook {
	return func(phase plugin.HookPhase, pluginID string, p plugin.Plugin, hookErr error) {
		eventType, ok := hookEventType(phase, hookErr)
		if !ok {
			return
		}
		if !b.hub.Started() {
			return
		}

		data := map[string]interface{}{"phase": string(phase)}
		if pluginID != "" {
			data["pluginId"] = pluginID
		}
		if p != nil {
			data["state"] = string(p.State())
		}
		if hookErr != nil {
			data["error"] = hookErr.Error()
		}

		event := eventhub.NewEvent(eventType,
			NewCloudEvent(eventType, "kernel/plugin-engine", data, nil),
			eventhub.PriorityNormal,
			map[string]interface{}{metadataBridgeKey: bridgeOriginEngine})

		if err := b.hub.Emit(context.Background(), event); err != nil {
			b.logger.Debug("Bridge emit failed", "type", eventType, "error", err)
		}
	}
}

// hookEventType maps an engine hook phase to the bridged event type. A
// per-plugin hook call without an error becomes the matching plugin: event;
// the engine makes that call before it runs the operation, so the event
// announces the operation rather than confirming it. Any call carrying an
// error, engine-level ones included, becomes plugin:failed; engine-level
// calls without an error do not cross the bridge.
func hookEventType(phase plugin.HookPhase, hookErr error) (string, bool) {
	if hookErr != nil {
		return EventTypePluginFailed, true
	}
	switch phase {
	case plugin.HookLoad:
		return EventTypePluginLoaded, true
	case plugin.HookInitialize:
		return EventTypePluginInitialized, true
	case plugin.HookStart:
		return EventTypePluginStarted, true
	case plugin.HookStop:
		return EventTypePluginStopped, true
	case plugin.HookCleanup:
		return EventTypePluginCleaned, true
	default:
		return "", false
	}
}
