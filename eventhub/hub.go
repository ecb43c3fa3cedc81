package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Config tunes the hub and pre-declares channels to create at start.
type Config struct {
	// Topics are created (and started) when the hub starts.
	Topics []TopicConfig `json:"topics" yaml:"topics" toml:"topics"`

	// Queues are created (and started) when the hub starts.
	Queues []TopicConfig `json:"queues" yaml:"queues" toml:"queues"`
}

// EventHub is the root of the messaging subsystem. It composes the topic
// and queue managers, a wildcard subscriber set that observes every emitted
// event, and broker ports for outward bridging.
type EventHub struct {
	config Config
	logger Logger

	mu            sync.Mutex
	started       bool
	publisherPort BrokerPort
	brokers       map[string]BrokerPort

	topics   *TopicManager
	queues   *QueueManager
	wildcard *SubscriberManager
}

// NewEventHub creates a stopped hub.
func NewEventHub(config Config, logger Logger) *EventHub {
	if logger == nil {
		logger = NopLogger()
	}
	return &EventHub{
		config:   config,
		logger:   logger,
		brokers:  make(map[string]BrokerPort),
		topics:   NewTopicManager(logger),
		queues:   NewQueueManager(logger),
		wildcard: NewSubscriberManager("*", logger),
	}
}

// Topics returns the topic manager.
func (h *EventHub) Topics() *TopicManager { return h.topics }

// Queues returns the queue manager.
func (h *EventHub) Queues() *QueueManager { return h.queues }

// Started reports whether the hub is running.
func (h *EventHub) Started() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.started
}

// Start creates the pre-declared topics and queues. Starting a started hub
// fails.
func (h *EventHub) Start(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("%w: already started", ErrHubInvalidState)
	}

	for _, cfg := range h.config.Topics {
		if _, err := h.topics.Create(cfg); err != nil {
			return fmt.Errorf("starting event hub: %w", err)
		}
	}
	for _, cfg := range h.config.Queues {
		if _, err := h.queues.Create(cfg); err != nil {
			return fmt.Errorf("starting event hub: %w", err)
		}
	}

	h.started = true
	h.logger.Info("Event hub started",
		"topics", h.topics.Count(), "queues", h.queues.Count())
	return nil
}

// Stop stops all topics and queues in parallel, drops wildcard subscribers
// and unsubscribes every broker port. Failures are aggregated; one channel's
// failure does not cancel the others.
func (h *EventHub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return fmt.Errorf("%w: not started", ErrHubInvalidState)
	}
	h.started = false
	brokers := make([]BrokerPort, 0, len(h.brokers))
	for _, port := range h.brokers {
		brokers = append(brokers, port)
	}
	h.mu.Unlock()

	var errs []error
	if err := h.topics.StopAll(); err != nil {
		errs = append(errs, err)
	}
	if err := h.queues.StopAll(); err != nil {
		errs = append(errs, err)
	}
	h.wildcard.Clear()

	for _, port := range brokers {
		if subscribed, _ := port.IsSubscribed(); subscribed {
			if err := port.Unsubscribe(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	h.logger.Info("Event hub stopped")
	return errors.Join(errs...)
}

// Emit broadcasts an event: it is injected into the topic whose name equals
// the event type (if one exists), handed to every wildcard subscriber, and
// forwarded outward through the publisher port and the named broker ports.
// A named broker port is skipped when the event's broker origin is its own
// name; the publisher port receives every emitted event, whatever its origin.
func (h *EventHub) Emit(ctx context.Context, event Event) error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return fmt.Errorf("%w: not started", ErrHubInvalidState)
	}
	publisher := h.publisherPort
	brokers := make(map[string]BrokerPort, len(h.brokers))
	for name, port := range h.brokers {
		brokers[name] = port
	}
	h.mu.Unlock()

	var errs []error
	if topic, ok := h.topics.Get(event.Type); ok {
		if err := topic.Inject(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	h.wildcard.Deliver(ctx, event)

	origin, _ := event.Metadata[MetadataBrokerOrigin].(string)
	if publisher != nil {
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	for name, port := range brokers {
		if name == origin {
			continue
		}
		if err := port.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("broker %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// SubscribeAll installs a wildcard subscriber that observes every event
// passed to Emit.
func (h *EventHub) SubscribeAll(listener Listener, options SubscribeOptions) (*Subscription, error) {
	return h.wildcard.Add(listener, options)
}

// UnsubscribeAll removes a wildcard subscriber by id.
func (h *EventHub) UnsubscribeAll(id string) error {
	return h.wildcard.Remove(id)
}

// SetPublisherPort installs the port every emitted event is forwarded to.
// Passing nil clears the slot.
func (h *EventHub) SetPublisherPort(port BrokerPort) {
	h.mu.Lock()
	h.publisherPort = port
	h.mu.Unlock()
}

// SetSubscriberPort wires an inbound port: events the port receives are
// re-emitted on the hub, carrying the port name as their broker origin so
// they are not echoed back out through it.
func (h *EventHub) SetSubscriberPort(ctx context.Context, name string, port BrokerPort) error {
	err := port.Subscribe(ctx, func(ctx context.Context, event Event) error {
		if event.Metadata == nil {
			event.Metadata = make(map[string]interface{})
		}
		event.Metadata[MetadataBrokerOrigin] = name
		return h.Emit(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("%w: port %s: %w", ErrAdapterConnectionFailed, name, err)
	}
	return nil
}

// ConnectBroker registers a named broker port for outward forwarding.
func (h *EventHub) ConnectBroker(name string, port BrokerPort) error {
	if name == "" {
		return fmt.Errorf("%w: broker %w", ErrInvalidConfiguration, ErrNameEmpty)
	}
	ready, err := port.IsReady()
	if err != nil || !ready {
		return fmt.Errorf("%w: broker %s not ready", ErrAdapterConnectionFailed, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.brokers[name]; exists {
		return fmt.Errorf("%w: broker %s", ErrAlreadyExists, name)
	}
	h.brokers[name] = port
	h.logger.Info("Broker port connected", "broker", name)
	return nil
}

// DisconnectBroker removes a named broker port.
func (h *EventHub) DisconnectBroker(ctx context.Context, name string) error {
	h.mu.Lock()
	port, ok := h.brokers[name]
	if ok {
		delete(h.brokers, name)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: broker %s", ErrResourceNotFound, name)
	}
	if subscribed, _ := port.IsSubscribed(); subscribed {
		if err := port.Unsubscribe(ctx); err != nil {
			return fmt.Errorf("%w: broker %s: %w", ErrAdapterDisconnectionFailed, name, err)
		}
	}
	h.logger.Info("Broker port disconnected", "broker", name)
	return nil
}

// Metrics aggregates per-topic and per-queue snapshots.
func (h *EventHub) Metrics() (topics, queues map[string]TopicMetrics) {
	return h.topics.Metrics(), h.queues.Metrics()
}
