package eventhub

import (
	"errors"
	"fmt"
	"sync"
)

// TopicManager is the named registry of topics. Creation starts the topic;
// a topic that fails to start is never registered. Mutation takes the write
// lock; lookups share the read lock.
type TopicManager struct {
	mu     sync.RWMutex
	topics map[string]*Topic
	logger Logger
}

// NewTopicManager creates an empty topic registry.
func NewTopicManager(logger Logger) *TopicManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &TopicManager{
		topics: make(map[string]*Topic),
		logger: logger,
	}
}

// Create validates the config, constructs the topic with the bus variant it
// asks for, starts it and registers it.
func (m *TopicManager) Create(config TopicConfig) (*Topic, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: topic %w", ErrInvalidConfiguration, ErrNameEmpty)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.topics[config.Name]; exists {
		return nil, fmt.Errorf("%w: topic %s", ErrAlreadyExists, config.Name)
	}

	topic := NewTopic(config, m.logger)
	if err := topic.Start(); err != nil {
		return nil, fmt.Errorf("starting topic %s: %w", config.Name, err)
	}
	m.topics[config.Name] = topic
	m.logger.Info("Topic created", "topic", config.Name, "priorityQueue", config.PriorityQueue)
	return topic, nil
}

// Get returns the named topic.
func (m *TopicManager) Get(name string) (*Topic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	topic, ok := m.topics[name]
	return topic, ok
}

// Delete stops the named topic and removes it from the registry.
func (m *TopicManager) Delete(name string) error {
	m.mu.Lock()
	topic, ok := m.topics[name]
	if ok {
		delete(m.topics, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrResourceNotFound, name)
	}
	if err := topic.Stop(); err != nil {
		return fmt.Errorf("deleting topic %s: %w", name, err)
	}
	m.logger.Info("Topic deleted", "topic", name)
	return nil
}

// Names returns the registered topic names.
func (m *TopicManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered topics.
func (m *TopicManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.topics)
}

// Metrics returns a per-topic snapshot of the delivery counters.
func (m *TopicManager) Metrics() map[string]TopicMetrics {
	m.mu.RLock()
	topics := make([]*Topic, 0, len(m.topics))
	for _, topic := range m.topics {
		topics = append(topics, topic)
	}
	m.mu.RUnlock()

	out := make(map[string]TopicMetrics, len(topics))
	for _, topic := range topics {
		out[topic.Name()] = topic.Metrics()
	}
	return out
}

// StopAll stops every registered topic in parallel and aggregates the
// failures. One topic's failure does not cancel the others. The registry
// is emptied regardless.
func (m *TopicManager) StopAll() error {
	m.mu.Lock()
	topics := make([]*Topic, 0, len(m.topics))
	for name, topic := range m.topics {
		topics = append(topics, topic)
		delete(m.topics, name)
	}
	m.mu.Unlock()

	errs := make([]error, len(topics))
	var wg sync.WaitGroup
	for i, topic := range topics {
		wg.Add(1)
		go func(i int, topic *Topic) {
			defer wg.Done()
			if err := topic.Stop(); err != nil {
				errs[i] = fmt.Errorf("stopping topic %s: %w", topic.Name(), err)
			}
		}(i, topic)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// QueueManager is the named registry of queues, with the same discipline as
// TopicManager.
type QueueManager struct {
	mu     sync.RWMutex
	queues map[string]*Queue
	logger Logger
}

// NewQueueManager creates an empty queue registry.
func NewQueueManager(logger Logger) *QueueManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &QueueManager{
		queues: make(map[string]*Queue),
		logger: logger,
	}
}

// Create validates the config, constructs and starts the queue, and
// registers it.
func (m *QueueManager) Create(config TopicConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: queue %w", ErrInvalidConfiguration, ErrNameEmpty)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queues[config.Name]; exists {
		return nil, fmt.Errorf("%w: queue %s", ErrAlreadyExists, config.Name)
	}

	queue := NewQueue(config, m.logger)
	if err := queue.Start(); err != nil {
		return nil, fmt.Errorf("starting queue %s: %w", config.Name, err)
	}
	m.queues[config.Name] = queue
	m.logger.Info("Queue created", "queue", config.Name)
	return queue, nil
}

// Get returns the named queue.
func (m *QueueManager) Get(name string) (*Queue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	queue, ok := m.queues[name]
	return queue, ok
}

// Delete stops the named queue and removes it from the registry.
func (m *QueueManager) Delete(name string) error {
	m.mu.Lock()
	queue, ok := m.queues[name]
	if ok {
		delete(m.queues, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: queue %s", ErrResourceNotFound, name)
	}
	if err := queue.Stop(); err != nil {
		return fmt.Errorf("deleting queue %s: %w", name, err)
	}
	m.logger.Info("Queue deleted", "queue", name)
	return nil
}

// Names returns the registered queue names.
func (m *QueueManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered queues.
func (m *QueueManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queues)
}

// Metrics returns a per-queue snapshot of the counters.
func (m *QueueManager) Metrics() map[string]TopicMetrics {
	m.mu.RLock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, queue := range m.queues {
		queues = append(queues, queue)
	}
	m.mu.RUnlock()

	out := make(map[string]TopicMetrics, len(queues))
	for _, queue := range queues {
		out[queue.Name()] = queue.Metrics()
	}
	return out
}

// StopAll stops every registered queue in parallel and aggregates the
// failures.
func (m *QueueManager) StopAll() error {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for name, queue := range m.queues {
		queues = append(queues, queue)
		delete(m.queues, name)
	}
	m.mu.Unlock()

	errs := make([]error, len(queues))
	var wg sync.WaitGroup
	for i, queue := range queues {
		wg.Add(1)
		go func(i int, queue *Queue) {
			defer wg.Done()
			if err := queue.Stop(); err != nil {
				errs[i] = fmt.Errorf("stopping queue %s: %w", queue.Name(), err)
			}
		}(i, queue)
	}
	wg.Wait()
	return errors.Join(errs...)
}
