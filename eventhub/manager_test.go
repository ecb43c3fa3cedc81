package eventhub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicManagerCreate(t *testing.T) {
	m := NewTopicManager(nil)

	topic, err := m.Create(TopicConfig{Name: "orders", PriorityQueue: true})
	require.NoError(t, err)
	assert.True(t, topic.Running(), "created topics start immediately")

	_, err = m.Create(TopicConfig{Name: "orders"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = m.Create(TopicConfig{})
	require.ErrorIs(t, err, ErrNameEmpty)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	got, ok := m.Get("orders")
	require.True(t, ok)
	assert.Same(t, topic, got)
	assert.Equal(t, []string{"orders"}, m.Names())
}

func TestTopicManagerDelete(t *testing.T) {
	m := NewTopicManager(nil)
	topic, err := m.Create(TopicConfig{Name: "orders"})
	require.NoError(t, err)

	require.NoError(t, m.Delete("orders"))
	assert.False(t, topic.Running())
	_, ok := m.Get("orders")
	assert.False(t, ok)

	require.ErrorIs(t, m.Delete("orders"), ErrResourceNotFound)
}

func TestTopicManagerStopAll(t *testing.T) {
	m := NewTopicManager(nil)
	var topics []*Topic
	for _, name := range []string{"a", "b", "c"} {
		topic, err := m.Create(TopicConfig{Name: name})
		require.NoError(t, err)
		topics = append(topics, topic)
	}

	require.NoError(t, m.StopAll())
	assert.Equal(t, 0, m.Count())
	for _, topic := range topics {
		assert.False(t, topic.Running())
	}
}

func TestTopicManagerStopAllAggregatesFailures(t *testing.T) {
	m := NewTopicManager(nil)
	healthy, err := m.Create(TopicConfig{Name: "healthy"})
	require.NoError(t, err)
	broken, err := m.Create(TopicConfig{Name: "broken"})
	require.NoError(t, err)
	// Stopping out of band makes the managed stop fail for this topic.
	require.NoError(t, broken.Stop())

	err = m.StopAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicNotRunning)
	assert.False(t, healthy.Running(), "one failure must not cancel the others")
}

func TestTopicManagerMetrics(t *testing.T) {
	m := NewTopicManager(nil)
	topic, err := m.Create(TopicConfig{Name: "orders"})
	require.NoError(t, err)
	_, err = topic.Publish(context.Background(), "m1", nil)
	require.NoError(t, err)

	metrics := m.Metrics()
	require.Contains(t, metrics, "orders")
	assert.EqualValues(t, 1, metrics["orders"].MessagesPublished)
}

func TestQueueManagerLifecycle(t *testing.T) {
	m := NewQueueManager(nil)

	queue, err := m.Create(TopicConfig{Name: "jobs"})
	require.NoError(t, err)
	assert.True(t, queue.Running())

	_, err = m.Create(TopicConfig{Name: "jobs"})
	require.ErrorIs(t, err, ErrAlreadyExists)
	_, err = m.Create(TopicConfig{})
	require.ErrorIs(t, err, ErrNameEmpty)

	_, err = queue.Send(context.Background(), "job", nil)
	require.NoError(t, err)
	metrics := m.Metrics()
	assert.EqualValues(t, 1, metrics["jobs"].MessagesPublished)

	require.NoError(t, m.Delete("jobs"))
	require.ErrorIs(t, m.Delete("jobs"), ErrResourceNotFound)

	_, err = m.Create(TopicConfig{Name: "a"})
	require.NoError(t, err)
	_, err = m.Create(TopicConfig{Name: "b"})
	require.NoError(t, err)
	require.NoError(t, m.StopAll())
	assert.Equal(t, 0, m.Count())
}
