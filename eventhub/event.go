// Package eventhub provides the in-process messaging half of the kernel:
// point-to-point queues and publish/subscribe topics with priority ordering,
// per-subscriber retry, bounded retention, and delivery metrics.
//
// Topics fan events out to every subscriber; queues hand each message to a
// single consumer via Receive. Both sit on top of a MessageBus, the ordered
// in-memory store that enforces capacity and retention. A TopicManager and
// QueueManager keep the named registries, and the EventHub composes the two
// with wildcard subscribers and external broker ports.
package eventhub

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority controls dequeue order on priority topics. Higher values dequeue
// first. On non-priority (FIFO) topics the priority is silently ignored.
type Priority int

// Message priorities, ordered low to high.
const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// MetadataPriority is the metadata key consulted by Topic.Publish to pick an
// event priority. Accepted values: Priority, int, or the strings
// "high"/"normal"/"low".
const MetadataPriority = "priority"

// Event is an immutable message record. The ID is unique within a topic's
// retention window and the timestamp is set once at publish time.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Type is the topic name the event was published to.
	Type string `json:"type"`

	// Payload is the message body. The payload type should be consistent
	// for events within the same topic.
	Payload interface{} `json:"payload"`

	// Priority orders the event relative to others on a priority topic.
	Priority Priority `json:"priority"`

	// Timestamp is when the event was published. Never mutated afterwards;
	// events published within the same millisecond keep insertion order.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries contextual data that does not belong in the payload.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent constructs an event for the given topic with a generated id and
// the current time as its timestamp.
func NewEvent(topic string, payload interface{}, priority Priority, metadata map[string]interface{}) Event {
	return Event{
		ID:        generateEventID(),
		Type:      topic,
		Payload:   payload,
		Priority:  priority,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// generateEventID produces ids of the form evt_<unix-millis>_<random>.
func generateEventID() string {
	return fmt.Sprintf("evt_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// priorityFromMetadata extracts a priority hint from publish metadata,
// defaulting to PriorityNormal.
func priorityFromMetadata(metadata map[string]interface{}) Priority {
	if metadata == nil {
		return PriorityNormal
	}
	raw, ok := metadata[MetadataPriority]
	if !ok {
		return PriorityNormal
	}
	switch v := raw.(type) {
	case Priority:
		return v
	case int:
		return Priority(v)
	case string:
		switch v {
		case "high":
			return PriorityHigh
		case "low":
			return PriorityLow
		}
	}
	return PriorityNormal
}
