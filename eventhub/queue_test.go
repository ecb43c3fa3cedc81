package eventhub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningQueue(t *testing.T, cfg TopicConfig) *Queue {
	t.Helper()
	queue := NewQueue(cfg, nil)
	require.NoError(t, queue.Start())
	return queue
}

func TestQueueSendReceive(t *testing.T) {
	queue := newRunningQueue(t, TopicConfig{Name: "jobs", MaxSize: 10})
	ctx := context.Background()

	_, err := queue.Send(ctx, "job-1", nil)
	require.NoError(t, err)
	_, err = queue.Send(ctx, "job-2", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, queue.Size())

	event, ok := queue.Receive()
	require.True(t, ok)
	assert.Equal(t, "job-1", event.Payload)

	event, ok = queue.Receive()
	require.True(t, ok)
	assert.Equal(t, "job-2", event.Payload)

	_, ok = queue.Receive()
	assert.False(t, ok, "empty queue returns absence, not an error")
}

func TestQueuePriorityOrdering(t *testing.T) {
	queue := newRunningQueue(t, TopicConfig{Name: "jobs", MaxSize: 10, PriorityQueue: true})
	ctx := context.Background()

	_, err := queue.Send(ctx, "normal", nil)
	require.NoError(t, err)
	_, err = queue.Send(ctx, "urgent", map[string]interface{}{MetadataPriority: PriorityHigh})
	require.NoError(t, err)

	event, ok := queue.Receive()
	require.True(t, ok)
	assert.Equal(t, "urgent", event.Payload)
}

func TestQueueCapacity(t *testing.T) {
	queue := newRunningQueue(t, TopicConfig{Name: "jobs", MaxSize: 1})
	ctx := context.Background()

	_, err := queue.Send(ctx, "job-1", nil)
	require.NoError(t, err)
	_, err = queue.Send(ctx, "job-2", nil)
	require.ErrorIs(t, err, ErrResourceUnavailable)

	_, ok := queue.Receive()
	require.True(t, ok)
	_, err = queue.Send(ctx, "job-2", nil)
	require.NoError(t, err)
}

func TestQueueStateMachine(t *testing.T) {
	queue := NewQueue(TopicConfig{Name: "jobs"}, nil)
	ctx := context.Background()

	_, err := queue.Send(ctx, "early", nil)
	require.ErrorIs(t, err, ErrQueueNotRunning)

	require.NoError(t, queue.Start())
	require.ErrorIs(t, queue.Start(), ErrQueueAlreadyRunning)

	_, err = queue.Send(ctx, "job", nil)
	require.NoError(t, err)

	require.NoError(t, queue.Stop())
	require.ErrorIs(t, queue.Stop(), ErrQueueNotRunning)
	assert.Equal(t, 0, queue.Size(), "stop clears the bus")
}

func TestQueueMetrics(t *testing.T) {
	queue := newRunningQueue(t, TopicConfig{Name: "jobs", MaxSize: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := queue.Send(ctx, i, nil)
		require.NoError(t, err)
	}
	queue.Receive()

	metrics := queue.Metrics()
	assert.EqualValues(t, 3, metrics.MessagesPublished)
	assert.EqualValues(t, 1, metrics.MessagesConsumed)
	assert.Equal(t, 2, metrics.MessagesInQueue)
}
