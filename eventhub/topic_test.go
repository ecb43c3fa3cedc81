package eventhub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningTopic(t *testing.T, cfg TopicConfig) *Topic {
	t.Helper()
	topic := NewTopic(cfg, nil)
	require.NoError(t, topic.Start())
	return topic
}

func TestTopicPriorityDeliveryOrder(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 10, PriorityQueue: true})
	ctx := context.Background()

	// Publish before anyone subscribes; the backlog drains to the first
	// subscriber in bus order.
	_, err := topic.Publish(ctx, "m1", map[string]interface{}{MetadataPriority: PriorityNormal})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m2", map[string]interface{}{MetadataPriority: PriorityHigh})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m3", map[string]interface{}{MetadataPriority: PriorityLow})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m4", map[string]interface{}{MetadataPriority: PriorityHigh})
	require.NoError(t, err)

	var got []string
	_, err = topic.Subscribe(ctx, func(_ context.Context, event Event) error {
		got = append(got, event.Payload.(string))
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"m2", "m4", "m1", "m3"}, got)
}

func TestTopicFIFOWithinSamePriority(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 10, PriorityQueue: true})
	ctx := context.Background()

	for _, payload := range []string{"m1", "m2", "m3"} {
		_, err := topic.Publish(ctx, payload, nil)
		require.NoError(t, err)
	}

	var got []string
	_, err := topic.Subscribe(ctx, func(_ context.Context, event Event) error {
		got = append(got, event.Payload.(string))
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestTopicCapacityBound(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 2})
	ctx := context.Background()

	_, err := topic.Publish(ctx, "m1", nil)
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m2", nil)
	require.NoError(t, err)

	_, err = topic.Publish(ctx, "m3", nil)
	require.ErrorIs(t, err, ErrResourceUnavailable)

	// Draining the backlog frees capacity.
	_, err = topic.Subscribe(ctx, func(_ context.Context, _ Event) error { return nil }, SubscribeOptions{})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m3", nil)
	require.NoError(t, err)
}

func TestTopicRoundTrip(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 100, PriorityQueue: true})
	ctx := context.Background()

	var got []string
	_, err := topic.Subscribe(ctx, func(_ context.Context, event Event) error {
		got = append(got, event.Payload.(string))
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	want := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		payload := string(rune('a' + i))
		want = append(want, payload)
		_, err := topic.Publish(ctx, payload, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, want, got, "publishing N messages yields exactly those N in order")

	metrics := topic.Metrics()
	assert.EqualValues(t, 20, metrics.MessagesPublished)
	assert.EqualValues(t, 20, metrics.MessagesConsumed)
	assert.EqualValues(t, 0, metrics.FailedMessages)
	assert.Equal(t, 0, metrics.MessagesInQueue)
	assert.Equal(t, 1, metrics.SubscribersCount)
}

func TestTopicFailedDeliveryCountsOnce(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 10})
	ctx := context.Background()

	sub, err := topic.Subscribe(ctx, func(_ context.Context, _ Event) error {
		return errors.New("always fails")
	}, SubscribeOptions{MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	_, err = topic.Publish(ctx, "m1", nil)
	require.NoError(t, err)

	metrics := topic.Metrics()
	assert.EqualValues(t, 1, metrics.MessagesPublished)
	assert.EqualValues(t, 1, metrics.FailedMessages)
	assert.EqualValues(t, 0, metrics.MessagesConsumed)
	assert.EqualValues(t, 1, sub.MessagesFailed())
	assert.GreaterOrEqual(t, metrics.MessagesPublished, metrics.MessagesConsumed+metrics.FailedMessages)
}

func TestTopicStartStopStateMachine(t *testing.T) {
	topic := NewTopic(TopicConfig{Name: "orders"}, nil)
	ctx := context.Background()

	_, err := topic.Publish(ctx, "early", nil)
	require.ErrorIs(t, err, ErrTopicNotRunning)

	require.NoError(t, topic.Start())
	require.ErrorIs(t, topic.Start(), ErrTopicAlreadyRunning)

	_, err = topic.Subscribe(ctx, func(_ context.Context, _ Event) error { return nil }, SubscribeOptions{})
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "m1", nil)
	require.NoError(t, err)

	require.NoError(t, topic.Stop())
	require.ErrorIs(t, topic.Stop(), ErrTopicNotRunning)
	assert.Equal(t, 0, topic.SubscriberCount(), "stop clears the subscriber set")

	_, err = topic.Publish(ctx, "late", nil)
	require.ErrorIs(t, err, ErrTopicNotRunning)
}

func TestTopicUnsubscribeStopsDelivery(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders"})
	ctx := context.Background()

	var calls int
	sub, err := topic.Subscribe(ctx, func(_ context.Context, _ Event) error {
		calls++
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	_, err = topic.Publish(ctx, "m1", nil)
	require.NoError(t, err)
	require.NoError(t, topic.Unsubscribe(sub.ID()))
	_, err = topic.Publish(ctx, "m2", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestTopicNonPriorityIgnoresPriorities(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders", MaxSize: 10})
	ctx := context.Background()

	_, err := topic.Publish(ctx, "normal", nil)
	require.NoError(t, err)
	_, err = topic.Publish(ctx, "high", map[string]interface{}{MetadataPriority: PriorityHigh})
	require.NoError(t, err)

	var got []string
	_, err = topic.Subscribe(ctx, func(_ context.Context, event Event) error {
		got = append(got, event.Payload.(string))
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"normal", "high"}, got, "FIFO topics ignore priorities")
}

func TestTopicPublishEventShape(t *testing.T) {
	topic := newRunningTopic(t, TopicConfig{Name: "orders"})
	event, err := topic.Publish(context.Background(), "m1", map[string]interface{}{MetadataPriority: "high"})
	require.NoError(t, err)

	assert.Regexp(t, `^evt_\d+_[0-9a-f]{8}$`, event.ID)
	assert.Equal(t, "orders", event.Type)
	assert.Equal(t, PriorityHigh, event.Priority)
	assert.False(t, event.Timestamp.IsZero())
}
