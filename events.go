package kernel

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Lifecycle event types emitted on the event hub. Plugin lifecycle events
// carry the plugin: prefix; context phase events carry the context:
// prefix. The bridge uses the prefixes to route between the subsystems.
const (
	EventTypePluginLoaded      = "plugin:loaded"
	EventTypePluginInitialized = "plugin:initialized"
	EventTypePluginStarted     = "plugin:started"
	EventTypePluginStopped     = "plugin:stopped"
	EventTypePluginCleaned     = "plugin:cleaned"
	EventTypePluginFailed      = "plugin:failed"

	EventTypeContextInitialized = "context:initialized"
	EventTypeContextStarted     = "context:started"
	EventTypeContextStopped     = "context:stopped"
	EventTypeContextFailed      = "context:failed"
	EventTypeContextRecovered   = "context:recovered"
)

// PluginLifecyclePrefix and ContextEventPrefix classify bridged events.
const (
	PluginLifecyclePrefix = "plugin:"
	ContextEventPrefix    = "context:"
)

// CloudEvent is an alias for the CloudEvents Event type for convenience.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a CloudEvent with the given attributes. Lifecycle
// events cross the hub as CloudEvents payloads so external broker ports
// can forward them without translation.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}
