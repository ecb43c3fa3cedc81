package eventhub

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Defaults applied by TopicConfig.normalize.
const (
	defaultMaxSize         = 1000
	defaultRetentionMillis = int64(24 * time.Hour / time.Millisecond)
)

// TopicConfig describes one topic or queue.
type TopicConfig struct {
	// Name uniquely identifies the topic within its manager.
	Name string `json:"name" yaml:"name" toml:"name"`

	// MaxSize bounds the backing bus. Defaults to 1000.
	MaxSize int `json:"maxSize" yaml:"maxSize" toml:"maxSize"`

	// Persistent is reserved; messages never survive a process restart.
	Persistent bool `json:"persistent" yaml:"persistent" toml:"persistent"`

	// PriorityQueue selects a priority-ordered bus. When false the topic is
	// plain FIFO and event priorities are silently ignored.
	PriorityQueue bool `json:"priorityQueue" yaml:"priorityQueue" toml:"priorityQueue"`

	// RetentionMillis is how long undelivered messages are kept before the
	// hourly retention pass expires them. Defaults to 24 hours.
	RetentionMillis int64 `json:"retentionMillis" yaml:"retentionMillis" toml:"retentionMillis"`
}

func (c TopicConfig) normalize() TopicConfig {
	if c.MaxSize <= 0 {
		c.MaxSize = defaultMaxSize
	}
	if c.RetentionMillis <= 0 {
		c.RetentionMillis = defaultRetentionMillis
	}
	return c
}

// retention returns the configured retention window as a duration.
func (c TopicConfig) retention() time.Duration {
	return time.Duration(c.RetentionMillis) * time.Millisecond
}

// newBus builds the bus variant the config asks for.
func (c TopicConfig) newBus(logger Logger) MessageBus {
	if c.PriorityQueue {
		return NewHeapBus(c.MaxSize, c.retention(), logger)
	}
	return NewArrayBus(c.MaxSize, c.retention(), logger)
}

// Topic is a named publish/subscribe channel. It owns its message bus,
// subscriber set and metrics tracker. Published events pass through the bus,
// so delivery follows bus order: priority descending then timestamp
// ascending on priority topics, plain FIFO otherwise. Events published
// while no subscriber is registered stay queued and are drained to the
// first subscriber.
type Topic struct {
	config TopicConfig
	logger Logger

	mu        sync.Mutex
	running   bool
	destroyed bool
	bus       MessageBus

	// deliverMu serializes drain passes so bus order survives concurrent
	// publishes.
	deliverMu sync.Mutex

	subscribers *SubscriberManager
	metrics     *MetricsTracker
}

// NewTopic creates a stopped topic from the config.
func NewTopic(config TopicConfig, logger Logger) *Topic {
	if logger == nil {
		logger = NopLogger()
	}
	config = config.normalize()
	return &Topic{
		config:      config,
		logger:      logger,
		bus:         config.newBus(logger),
		subscribers: NewSubscriberManager(config.Name, logger),
		metrics:     NewMetricsTracker(),
	}
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.config.Name }

// Config returns the topic configuration.
func (t *Topic) Config() TopicConfig { return t.config }

// Running reports whether the topic accepts publishes.
func (t *Topic) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Start transitions the topic to running. Starting a running topic fails.
func (t *Topic) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("%w: topic %s", ErrTopicAlreadyRunning, t.config.Name)
	}
	if t.destroyed {
		t.bus = t.config.newBus(t.logger)
		t.destroyed = false
	}
	t.running = true
	t.logger.Debug("Topic started", "topic", t.config.Name)
	return nil
}

// Stop halts the topic, clears the bus and drops every subscriber. The
// retention collector stops with the bus.
func (t *Topic) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return fmt.Errorf("%w: topic %s", ErrTopicNotRunning, t.config.Name)
	}
	t.running = false
	t.bus.Destroy()
	t.destroyed = true
	t.subscribers.Clear()
	t.logger.Debug("Topic stopped", "topic", t.config.Name)
	return nil
}

// Publish enqueues a message and drains the bus to the current subscribers.
// The event priority is read from the MetadataPriority key, defaulting to
// normal. Returns ErrResourceUnavailable when the bus is full.
func (t *Topic) Publish(ctx context.Context, payload interface{}, metadata map[string]interface{}) (Event, error) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return Event{}, fmt.Errorf("%w: topic %s", ErrTopicNotRunning, t.config.Name)
	}
	bus := t.bus
	t.mu.Unlock()

	event := NewEvent(t.config.Name, payload, priorityFromMetadata(metadata), metadata)
	if err := bus.Enqueue(event); err != nil {
		return Event{}, fmt.Errorf("publishing to topic %s: %w", t.config.Name, err)
	}
	t.metrics.MarkPublished()

	t.drain(ctx)
	return event, nil
}

// Inject enqueues an already-constructed event, preserving its id, priority
// and timestamp. Used by the hub's emit fan-out.
func (t *Topic) Inject(ctx context.Context, event Event) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return fmt.Errorf("%w: topic %s", ErrTopicNotRunning, t.config.Name)
	}
	bus := t.bus
	t.mu.Unlock()

	if err := bus.Enqueue(event); err != nil {
		return fmt.Errorf("injecting into topic %s: %w", t.config.Name, err)
	}
	t.metrics.MarkPublished()

	t.drain(ctx)
	return nil
}

// Subscribe registers a listener and synchronously drains any backlog to
// the subscriber set, in bus order.
func (t *Topic) Subscribe(ctx context.Context, listener Listener, options SubscribeOptions) (*Subscription, error) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: topic %s", ErrTopicNotRunning, t.config.Name)
	}
	t.mu.Unlock()

	sub, err := t.subscribers.Add(listener, options)
	if err != nil {
		return nil, err
	}
	t.drain(ctx)
	return sub, nil
}

// Unsubscribe removes a subscription by id. Once it returns, no further
// listener call happens for that id.
func (t *Topic) Unsubscribe(id string) error {
	return t.subscribers.Remove(id)
}

// SubscriberCount returns the number of active subscribers.
func (t *Topic) SubscriberCount() int {
	return t.subscribers.Count()
}

// Metrics returns a snapshot of the topic counters, queue depth and
// subscriber count.
func (t *Topic) Metrics() TopicMetrics {
	snapshot := t.metrics.Snapshot()
	t.mu.Lock()
	snapshot.MessagesInQueue = t.bus.Size()
	t.mu.Unlock()
	snapshot.SubscribersCount = t.subscribers.Count()
	return snapshot
}

// drain delivers queued events while subscribers exist, one event at a
// time in bus order. The delivery outcome is recorded once per event:
// failed when every subscriber abandoned it, consumed otherwise.
// Re-entrant publishes (a listener publishing into its own topic) land on
// the already-running drain loop instead of deadlocking on deliverMu.
func (t *Topic) drain(ctx context.Context) {
	if !t.deliverMu.TryLock() {
		return
	}
	defer t.deliverMu.Unlock()

	for t.subscribers.Count() > 0 {
		t.mu.Lock()
		if !t.running {
			t.mu.Unlock()
			return
		}
		event, ok := t.bus.Dequeue()
		t.mu.Unlock()
		if !ok {
			return
		}

		result := t.subscribers.Deliver(ctx, event)
		switch {
		case result.Failed > 0 && result.Processed == 0:
			t.metrics.MarkFailed()
		case result.Processed > 0:
			t.metrics.MarkConsumed(result.AverageTime)
		}
	}
}
