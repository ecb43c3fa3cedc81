package eventhub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort records outbound events and loops inbound ones through its
// listener.
type fakePort struct {
	mu        sync.Mutex
	published []Event
	listener  Listener
	ready     bool
}

func newFakePort() *fakePort { return &fakePort{ready: true} }

func (p *fakePort) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, event)
	return nil
}

func (p *fakePort) PublishBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (p *fakePort) IsReady() (bool, error) { return p.ready, nil }

func (p *fakePort) Subscribe(_ context.Context, listener Listener) error {
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Unsubscribe(_ context.Context) error {
	p.mu.Lock()
	p.listener = nil
	p.mu.Unlock()
	return nil
}

func (p *fakePort) IsSubscribed() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener != nil, nil
}

func (p *fakePort) publishedEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.published...)
}

func (p *fakePort) inject(ctx context.Context, event Event) error {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()
	if listener == nil {
		return nil
	}
	return listener(ctx, event)
}

func startedHub(t *testing.T, cfg Config) *EventHub {
	t.Helper()
	hub := NewEventHub(cfg, nil)
	require.NoError(t, hub.Start(context.Background()))
	return hub
}

func TestHubStartCreatesConfiguredChannels(t *testing.T) {
	hub := startedHub(t, Config{
		Topics: []TopicConfig{{Name: "orders"}, {Name: "billing", PriorityQueue: true}},
		Queues: []TopicConfig{{Name: "jobs"}},
	})
	assert.ElementsMatch(t, []string{"orders", "billing"}, hub.Topics().Names())
	assert.Equal(t, []string{"jobs"}, hub.Queues().Names())

	require.ErrorIs(t, hub.Start(context.Background()), ErrHubInvalidState)
}

func TestHubEmitRoutesToMatchingTopic(t *testing.T) {
	hub := startedHub(t, Config{Topics: []TopicConfig{{Name: "orders"}}})
	ctx := context.Background()

	topic, _ := hub.Topics().Get("orders")
	var got []string
	_, err := topic.Subscribe(ctx, func(_ context.Context, event Event) error {
		got = append(got, event.ID)
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	event := NewEvent("orders", "payload", PriorityNormal, nil)
	require.NoError(t, hub.Emit(ctx, event))
	assert.Equal(t, []string{event.ID}, got)

	// Events typed after unknown topics only reach wildcard subscribers.
	require.NoError(t, hub.Emit(ctx, NewEvent("unknown", "x", PriorityNormal, nil)))
	assert.Len(t, got, 1)
}

func TestHubWildcardSubscriber(t *testing.T) {
	hub := startedHub(t, Config{})
	ctx := context.Background()

	var types []string
	sub, err := hub.SubscribeAll(func(_ context.Context, event Event) error {
		types = append(types, event.Type)
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	require.NoError(t, hub.Emit(ctx, NewEvent("a", nil, PriorityNormal, nil)))
	require.NoError(t, hub.Emit(ctx, NewEvent("b", nil, PriorityNormal, nil)))
	assert.Equal(t, []string{"a", "b"}, types)

	require.NoError(t, hub.UnsubscribeAll(sub.ID()))
	require.NoError(t, hub.Emit(ctx, NewEvent("c", nil, PriorityNormal, nil)))
	assert.Equal(t, []string{"a", "b"}, types)
}

func TestHubBrokerForwarding(t *testing.T) {
	hub := startedHub(t, Config{})
	ctx := context.Background()

	port := newFakePort()
	require.NoError(t, hub.ConnectBroker("external", port))
	require.ErrorIs(t, hub.ConnectBroker("external", port), ErrAlreadyExists)

	event := NewEvent("orders", "x", PriorityNormal, nil)
	require.NoError(t, hub.Emit(ctx, event))
	require.Len(t, port.publishedEvents(), 1)
	assert.Equal(t, event.ID, port.publishedEvents()[0].ID)
}

func TestHubInboundPortDoesNotEchoToOrigin(t *testing.T) {
	hub := startedHub(t, Config{})
	ctx := context.Background()

	port := newFakePort()
	require.NoError(t, hub.ConnectBroker("external", port))
	require.NoError(t, hub.SetSubscriberPort(ctx, "external", port))

	var seen []string
	_, err := hub.SubscribeAll(func(_ context.Context, event Event) error {
		seen = append(seen, event.ID)
		return nil
	}, SubscribeOptions{})
	require.NoError(t, err)

	inbound := NewEvent("orders", "from-outside", PriorityNormal, nil)
	require.NoError(t, port.inject(ctx, inbound))

	assert.Equal(t, []string{inbound.ID}, seen, "inbound event reaches the hub")
	assert.Empty(t, port.publishedEvents(), "inbound event is never echoed back to its origin port")
}

func TestHubPublisherPortSlot(t *testing.T) {
	hub := startedHub(t, Config{})
	port := newFakePort()
	hub.SetPublisherPort(port)

	require.NoError(t, hub.Emit(context.Background(), NewEvent("orders", nil, PriorityNormal, nil)))
	assert.Len(t, port.publishedEvents(), 1)
}

func TestHubConnectBrokerValidation(t *testing.T) {
	hub := startedHub(t, Config{})
	require.ErrorIs(t, hub.ConnectBroker("", newFakePort()), ErrInvalidConfiguration)

	notReady := newFakePort()
	notReady.ready = false
	require.ErrorIs(t, hub.ConnectBroker("down", notReady), ErrAdapterConnectionFailed)

	require.ErrorIs(t, hub.DisconnectBroker(context.Background(), "missing"), ErrResourceNotFound)
}

func TestHubStop(t *testing.T) {
	hub := startedHub(t, Config{Topics: []TopicConfig{{Name: "orders"}}})
	ctx := context.Background()

	port := newFakePort()
	require.NoError(t, hub.ConnectBroker("external", port))
	require.NoError(t, hub.SetSubscriberPort(ctx, "external", port))

	require.NoError(t, hub.Stop(ctx))
	assert.False(t, hub.Started())
	assert.Equal(t, 0, hub.Topics().Count())
	subscribed, _ := port.IsSubscribed()
	assert.False(t, subscribed, "stop unsubscribes broker ports")

	require.ErrorIs(t, hub.Emit(ctx, NewEvent("orders", nil, PriorityNormal, nil)), ErrHubInvalidState)
	require.ErrorIs(t, hub.Stop(ctx), ErrHubInvalidState)
}
