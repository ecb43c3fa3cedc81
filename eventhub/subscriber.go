package eventhub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Listener handles one delivered event. Listeners may block; the delivery
// loop awaits each invocation and applies the subscription's retry policy
// when the listener returns an error or panics.
type Listener func(ctx context.Context, event Event) error

// SyncListener adapts a plain synchronous callback to the Listener contract
// so it can be registered alongside context-aware listeners.
func SyncListener(fn func(event Event) error) Listener {
	return func(_ context.Context, event Event) error {
		return fn(event)
	}
}

// SubscribeOptions tune delivery for a single subscription. The zero value
// is usable; defaults are applied at registration.
type SubscribeOptions struct {
	// MaxRetries is how many times a failing delivery is retried before the
	// event is abandoned for this subscriber. Zero means the default of 3;
	// a negative value disables retries.
	MaxRetries int

	// RetryDelay is the pause between attempts. Defaults to one second.
	RetryDelay time.Duration

	// Priority orders subscribers during fan-out; higher first. Insertion
	// order breaks ties.
	Priority int

	// Filter, when set, drops events it returns false for. A filtered
	// event counts as delivered for that subscriber.
	Filter func(event Event) bool
}

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// Subscription is one registered listener on a topic. Counter reads are safe
// under concurrent delivery.
type Subscription struct {
	id        string
	topic     string
	listener  Listener
	options   SubscribeOptions
	createdAt time.Time
	seq       uint64

	active            atomic.Bool
	messagesProcessed atomic.Uint64
	messagesFailed    atomic.Uint64
	retryCount        atomic.Uint64

	manager *SubscriberManager
}

// ID returns the topic-scoped unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Topic returns the topic name this subscription belongs to.
func (s *Subscription) Topic() string { return s.topic }

// CreatedAt returns when the subscription was registered.
func (s *Subscription) CreatedAt() time.Time { return s.createdAt }

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// MessagesProcessed returns the number of filter-passed, non-failing
// deliveries to this subscriber.
func (s *Subscription) MessagesProcessed() uint64 { return s.messagesProcessed.Load() }

// MessagesFailed returns the number of events abandoned after the retry
// budget was exhausted.
func (s *Subscription) MessagesFailed() uint64 { return s.messagesFailed.Load() }

// RetryCount returns the retry counter for the delivery currently in
// flight; it resets to zero between events.
func (s *Subscription) RetryCount() uint64 { return s.retryCount.Load() }

// Cancel removes the subscription from its topic. Cancelling after the
// topic released the subscriber set is an error: the subscription only
// holds a weak link back to its manager.
func (s *Subscription) Cancel() error {
	if s.manager == nil {
		return fmt.Errorf("%w: subscription %s has no topic", ErrResourceNotFound, s.id)
	}
	return s.manager.Remove(s.id)
}

// DeliveryResult aggregates one fan-out pass over a topic's subscribers.
type DeliveryResult struct {
	// Processed counts subscribers that accepted the event, including
	// those whose filter skipped it.
	Processed int

	// Failed counts subscribers that exhausted their retry budget.
	Failed int

	// AverageTime is the mean listener processing time across successful
	// deliveries in this pass.
	AverageTime time.Duration
}

// SubscriberManager owns the subscriber set of a single topic and performs
// priority-ordered fan-out with per-subscriber retry. Add, Remove and
// Snapshot are safe under concurrent publish and subscribe.
type SubscriberManager struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	topic   string
	counter uint64
	logger  Logger
}

// NewSubscriberManager creates an empty subscriber set for the named topic.
func NewSubscriberManager(topic string, logger Logger) *SubscriberManager {
	if logger == nil {
		logger = NopLogger()
	}
	return &SubscriberManager{
		subs:   make(map[string]*Subscription),
		topic:  topic,
		logger: logger,
	}
}

// Add registers a listener and returns its subscription.
func (m *SubscriberManager) Add(listener Listener, options SubscribeOptions) (*Subscription, error) {
	if listener == nil {
		return nil, ErrListenerNil
	}
	if options.MaxRetries == 0 {
		options.MaxRetries = defaultMaxRetries
	} else if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}
	if options.RetryDelay == 0 {
		options.RetryDelay = defaultRetryDelay
	}

	m.mu.Lock()
	m.counter++
	sub := &Subscription{
		id:        fmt.Sprintf("%s-sub-%d-%s", m.topic, m.counter, uuid.NewString()[:8]),
		topic:     m.topic,
		listener:  listener,
		options:   options,
		createdAt: time.Now(),
		seq:       m.counter,
		manager:   m,
	}
	sub.active.Store(true)
	m.subs[sub.id] = sub
	m.mu.Unlock()

	m.logger.Debug("Subscriber added", "topic", m.topic, "subscription", sub.id)
	return sub, nil
}

// Remove deactivates and removes a subscription. A removed subscriber never
// receives further events.
func (m *SubscriberManager) Remove(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		sub.active.Store(false)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: subscription %s on topic %s", ErrResourceNotFound, id, m.topic)
	}
	m.logger.Debug("Subscriber removed", "topic", m.topic, "subscription", id)
	return nil
}

// Count returns the number of active subscribers.
func (m *SubscriberManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Clear deactivates and drops every subscriber.
func (m *SubscriberManager) Clear() {
	m.mu.Lock()
	for id, sub := range m.subs {
		sub.active.Store(false)
		delete(m.subs, id)
	}
	m.mu.Unlock()
}

// Snapshot returns the active subscribers ordered by option priority
// descending, insertion order breaking ties.
func (m *SubscriberManager) Snapshot() []*Subscription {
	m.mu.RLock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		out = append(out, sub)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].options.Priority != out[j].options.Priority {
			return out[i].options.Priority > out[j].options.Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Deliver fans the event out to a snapshot of the active subscribers, in
// priority order, awaiting each listener. A failure in one subscriber never
// aborts delivery to the others.
func (m *SubscriberManager) Deliver(ctx context.Context, event Event) DeliveryResult {
	var result DeliveryResult
	var totalTime time.Duration
	var timed int

	for _, sub := range m.Snapshot() {
		if !sub.Active() {
			continue
		}
		if sub.options.Filter != nil && !sub.options.Filter(event) {
			// Filtered out counts as delivered for this subscriber.
			result.Processed++
			continue
		}

		elapsed, err := m.deliverWithRetry(ctx, sub, event)
		if err != nil {
			sub.messagesFailed.Add(1)
			result.Failed++
			m.logger.Error("Event delivery abandoned",
				"topic", m.topic, "subscription", sub.id, "event", event.ID, "error", err)
			continue
		}
		sub.messagesProcessed.Add(1)
		result.Processed++
		totalTime += elapsed
		timed++
	}

	if timed > 0 {
		result.AverageTime = totalTime / time.Duration(timed)
	}
	return result
}

// deliverWithRetry invokes the listener, retrying on error up to the
// subscription's budget with the configured delay between attempts. The
// retry counter never outlives the event: it resets before returning.
func (m *SubscriberManager) deliverWithRetry(ctx context.Context, sub *Subscription, event Event) (time.Duration, error) {
	defer sub.retryCount.Store(0)

	var lastErr error
	for attempt := 0; attempt <= sub.options.MaxRetries; attempt++ {
		if attempt > 0 {
			sub.retryCount.Store(uint64(attempt))
			select {
			case <-time.After(sub.options.RetryDelay):
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %w", ErrEventDeliveryFailed, ctx.Err())
			}
			if !sub.Active() {
				return 0, fmt.Errorf("%w: subscriber removed mid-retry", ErrEventDeliveryFailed)
			}
		}

		start := time.Now()
		err := invokeListener(ctx, sub.listener, event)
		if err == nil {
			return time.Since(start), nil
		}
		lastErr = err
		m.logger.Warn("Event delivery attempt failed",
			"topic", m.topic, "subscription", sub.id, "attempt", attempt+1, "error", err)
	}
	return 0, fmt.Errorf("%w: %w", ErrEventDeliveryFailed, lastErr)
}

// invokeListener calls the listener, converting a panic into an error so
// one subscriber cannot take down the delivery loop.
func invokeListener(ctx context.Context, listener Listener, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: listener panic: %v", ErrEventProcessingFailed, r)
		}
	}()
	return listener(ctx, event)
}
