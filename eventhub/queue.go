package eventhub

import (
	"context"
	"fmt"
	"sync"
)

// Queue is a named point-to-point channel: Send enqueues, Receive removes
// one message for a single consumer. A queue never fans out. Like Topic it
// owns its bus and metrics; ordering follows the bus variant selected by
// the config.
type Queue struct {
	config TopicConfig
	logger Logger

	mu        sync.Mutex
	running   bool
	destroyed bool
	bus       MessageBus

	metrics *MetricsTracker
}

// NewQueue creates a stopped queue from the config.
func NewQueue(config TopicConfig, logger Logger) *Queue {
	if logger == nil {
		logger = NopLogger()
	}
	config = config.normalize()
	return &Queue{
		config:  config,
		logger:  logger,
		bus:     config.newBus(logger),
		metrics: NewMetricsTracker(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.config.Name }

// Config returns the queue configuration.
func (q *Queue) Config() TopicConfig { return q.config }

// Running reports whether the queue accepts sends.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Start transitions the queue to running. Starting a running queue fails.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("%w: queue %s", ErrQueueAlreadyRunning, q.config.Name)
	}
	if q.destroyed {
		q.bus = q.config.newBus(q.logger)
		q.destroyed = false
	}
	q.running = true
	q.logger.Debug("Queue started", "queue", q.config.Name)
	return nil
}

// Stop halts the queue and clears the bus. The retention collector stops
// with the bus.
func (q *Queue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return fmt.Errorf("%w: queue %s", ErrQueueNotRunning, q.config.Name)
	}
	q.running = false
	q.bus.Destroy()
	q.destroyed = true
	q.logger.Debug("Queue stopped", "queue", q.config.Name)
	return nil
}

// Send enqueues a message. Returns ErrResourceUnavailable when the queue
// is full.
func (q *Queue) Send(_ context.Context, payload interface{}, metadata map[string]interface{}) (Event, error) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return Event{}, fmt.Errorf("%w: queue %s", ErrQueueNotRunning, q.config.Name)
	}
	bus := q.bus
	q.mu.Unlock()

	event := NewEvent(q.config.Name, payload, priorityFromMetadata(metadata), metadata)
	if err := bus.Enqueue(event); err != nil {
		return Event{}, fmt.Errorf("sending to queue %s: %w", q.config.Name, err)
	}
	q.metrics.MarkPublished()
	return event, nil
}

// Receive removes and returns one message in bus order. The second return
// is false when the queue is empty.
func (q *Queue) Receive() (Event, bool) {
	q.mu.Lock()
	event, ok := q.bus.Dequeue()
	q.mu.Unlock()
	if ok {
		q.metrics.MarkConsumed(0)
	}
	return event, ok
}

// Peek returns the next message without removing it.
func (q *Queue) Peek() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bus.Peek()
}

// Size returns the number of queued messages.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bus.Size()
}

// Metrics returns a snapshot of the queue counters and depth.
func (q *Queue) Metrics() TopicMetrics {
	snapshot := q.metrics.Snapshot()
	q.mu.Lock()
	snapshot.MessagesInQueue = q.bus.Size()
	q.mu.Unlock()
	return snapshot
}
