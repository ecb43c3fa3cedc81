package eventhub

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// retentionSchedule is how often the retention pass runs for every bus.
const retentionSchedule = "@hourly"

// MessageBus is the ordered in-memory store backing a topic or queue.
// Implementations are safe for concurrent use; enqueue, dequeue and snapshot
// are atomic with respect to each other.
type MessageBus interface {
	// Enqueue stores an event. Returns ErrResourceUnavailable when the bus
	// holds maxSize events.
	Enqueue(event Event) error

	// Dequeue removes and returns the next event in bus order. The second
	// return is false when the bus is empty.
	Dequeue() (Event, bool)

	// Peek returns the next event without removing it.
	Peek() (Event, bool)

	// Size returns the number of stored events.
	Size() int

	// IsEmpty reports whether the bus holds no events.
	IsEmpty() bool

	// Clear removes all stored events.
	Clear()

	// Snapshot returns the stored events in dequeue order. O(n) for ArrayBus;
	// HeapBus orders a copy of its heap, O(n log n).
	Snapshot() []Event

	// Destroy stops the retention collector and clears the bus. A destroyed
	// bus still accepts operations but no longer expires events.
	Destroy()
}

// busJanitor runs the shared retention pass for a bus. Expired events are
// removed in a single critical section; a panic inside the pass is logged
// and swallowed so the schedule keeps running.
type busJanitor struct {
	cron      *cron.Cron
	retention time.Duration
	logger    Logger
}

func newBusJanitor(retention time.Duration, logger Logger, collect func(cutoff time.Time)) *busJanitor {
	j := &busJanitor{retention: retention, logger: logger}
	if retention <= 0 {
		return j
	}
	j.cron = cron.New()
	_, err := j.cron.AddFunc(retentionSchedule, func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Retention pass failed", "panic", fmt.Sprintf("%v", r))
			}
		}()
		collect(time.Now().Add(-retention))
	})
	if err != nil {
		// The schedule expression is a constant; this only trips if cron
		// itself rejects it.
		logger.Error("Failed to schedule retention pass", "error", err)
		return j
	}
	j.cron.Start()
	return j
}

func (j *busJanitor) stop() {
	if j.cron != nil {
		j.cron.Stop()
	}
}

// ArrayBus is a bounded FIFO message bus: enqueue appends, dequeue removes
// the head. Event priorities are ignored.
type ArrayBus struct {
	mu        sync.Mutex
	events    []Event
	maxSize   int
	janitor   *busJanitor
	destroyed bool
	logger    Logger
}

// NewArrayBus creates a FIFO bus holding at most maxSize events. Events older
// than retention are expired by a periodic pass; retention <= 0 disables it.
func NewArrayBus(maxSize int, retention time.Duration, logger Logger) *ArrayBus {
	if logger == nil {
		logger = NopLogger()
	}
	b := &ArrayBus{maxSize: maxSize, logger: logger}
	b.janitor = newBusJanitor(retention, logger, b.collectExpired)
	return b
}

// Enqueue appends an event, failing with ErrResourceUnavailable when full.
func (b *ArrayBus) Enqueue(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) >= b.maxSize {
		return fmt.Errorf("%w: capacity %d reached", ErrResourceUnavailable, b.maxSize)
	}
	b.events = append(b.events, event)
	return nil
}

// Dequeue removes and returns the oldest event.
func (b *ArrayBus) Dequeue() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return Event{}, false
	}
	event := b.events[0]
	b.events = b.events[1:]
	return event, true
}

// Peek returns the oldest event without removing it.
func (b *ArrayBus) Peek() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return Event{}, false
	}
	return b.events[0], true
}

// Size returns the number of stored events.
func (b *ArrayBus) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// IsEmpty reports whether the bus holds no events.
func (b *ArrayBus) IsEmpty() bool {
	return b.Size() == 0
}

// Clear removes all stored events.
func (b *ArrayBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// Snapshot returns the stored events in FIFO order.
func (b *ArrayBus) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Destroy stops the retention collector and clears the bus.
func (b *ArrayBus) Destroy() {
	b.janitor.stop()
	b.mu.Lock()
	b.events = nil
	b.destroyed = true
	b.mu.Unlock()
}

// collectExpired drops events with a timestamp before cutoff. Linear in the
// bus size, performed under one critical section.
func (b *ArrayBus) collectExpired(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.events[:0]
	purged := 0
	for _, event := range b.events {
		if event.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, event)
	}
	b.events = kept
	if purged > 0 {
		b.logger.Debug("Expired events purged", "count", purged)
	}
}

// heapEntry pairs an event with its insertion sequence so that events of
// equal priority and timestamp dequeue in arrival order.
type heapEntry struct {
	event Event
	seq   uint64
}

// eventHeap orders entries by priority descending, then timestamp ascending,
// then insertion sequence ascending.
type eventHeap []heapEntry

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].event.Priority != h[j].event.Priority {
		return h[i].event.Priority > h[j].event.Priority
	}
	if !h[i].event.Timestamp.Equal(h[j].event.Timestamp) {
		return h[i].event.Timestamp.Before(h[j].event.Timestamp)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(heapEntry)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

// HeapBus is a bounded priority message bus. Higher-priority events dequeue
// first; within a priority, events dequeue oldest first (FIFO for equal
// timestamps by insertion order).
type HeapBus struct {
	mu        sync.Mutex
	entries   eventHeap
	nextSeq   uint64
	maxSize   int
	janitor   *busJanitor
	destroyed bool
	logger    Logger
}

// NewHeapBus creates a priority bus holding at most maxSize events. Events
// older than retention are expired by a periodic pass; retention <= 0
// disables it.
func NewHeapBus(maxSize int, retention time.Duration, logger Logger) *HeapBus {
	if logger == nil {
		logger = NopLogger()
	}
	b := &HeapBus{maxSize: maxSize, logger: logger}
	b.janitor = newBusJanitor(retention, logger, b.collectExpired)
	return b
}

// Enqueue stores an event, failing with ErrResourceUnavailable when full.
func (b *HeapBus) Enqueue(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) >= b.maxSize {
		return fmt.Errorf("%w: capacity %d reached", ErrResourceUnavailable, b.maxSize)
	}
	heap.Push(&b.entries, heapEntry{event: event, seq: b.nextSeq})
	b.nextSeq++
	return nil
}

// Dequeue removes and returns the highest-priority event.
func (b *HeapBus) Dequeue() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Event{}, false
	}
	entry := heap.Pop(&b.entries).(heapEntry)
	return entry.event, true
}

// Peek returns the highest-priority event without removing it.
func (b *HeapBus) Peek() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return Event{}, false
	}
	return b.entries[0].event, true
}

// Size returns the number of stored events.
func (b *HeapBus) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// IsEmpty reports whether the bus holds no events.
func (b *HeapBus) IsEmpty() bool {
	return b.Size() == 0
}

// Clear removes all stored events.
func (b *HeapBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
}

// Snapshot returns the stored events in dequeue order without draining the
// bus. O(n log n) in the stored count.
func (b *HeapBus) Snapshot() []Event {
	b.mu.Lock()
	scratch := make(eventHeap, len(b.entries))
	copy(scratch, b.entries)
	b.mu.Unlock()

	out := make([]Event, 0, len(scratch))
	for scratch.Len() > 0 {
		entry := heap.Pop(&scratch).(heapEntry)
		out = append(out, entry.event)
	}
	return out
}

// Destroy stops the retention collector and clears the bus.
func (b *HeapBus) Destroy() {
	b.janitor.stop()
	b.mu.Lock()
	b.entries = nil
	b.destroyed = true
	b.mu.Unlock()
}

// collectExpired drops entries with a timestamp before cutoff and restores
// the heap invariant over the survivors.
func (b *HeapBus) collectExpired(cutoff time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	purged := 0
	for _, entry := range b.entries {
		if entry.event.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, entry)
	}
	b.entries = kept
	heap.Init(&b.entries)
	if purged > 0 {
		b.logger.Debug("Expired events purged", "count", purged)
	}
}
