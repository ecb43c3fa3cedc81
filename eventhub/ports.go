package eventhub

import (
	"context"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// BrokerPort bridges the hub to an external broker. The hub is agnostic to
// the transport behind a port; implementations adapt whatever client their
// broker needs.
type BrokerPort interface {
	// Publish forwards one event outward.
	Publish(ctx context.Context, event Event) error

	// PublishBatch forwards several events outward.
	PublishBatch(ctx context.Context, events []Event) error

	// IsReady reports whether the port can accept publishes.
	IsReady() (bool, error)

	// Subscribe installs the listener for inbound events. One listener per
	// port; subscribing twice replaces the previous listener.
	Subscribe(ctx context.Context, listener Listener) error

	// Unsubscribe removes the inbound listener.
	Unsubscribe(ctx context.Context) error

	// IsSubscribed reports whether an inbound listener is installed.
	IsSubscribed() (bool, error)
}

// MetadataBrokerOrigin marks events that entered the hub through a broker
// port, so outward forwarding can skip the port they came from.
const MetadataBrokerOrigin = "brokerOrigin"

// CloudEventsPort adapts a CloudEvents client to the BrokerPort contract.
// Outbound hub events are converted to CloudEvents; inbound CloudEvents are
// unwrapped into hub events typed after the CloudEvent type attribute.
type CloudEventsPort struct {
	name   string
	source string
	client cloudevents.Client
	logger Logger

	mu       sync.Mutex
	cancelRx context.CancelFunc
}

// NewCloudEventsPort wraps the client as a broker port. The source string
// becomes the CloudEvents source attribute on outbound events.
func NewCloudEventsPort(name, source string, client cloudevents.Client, logger Logger) *CloudEventsPort {
	if logger == nil {
		logger = NopLogger()
	}
	return &CloudEventsPort{name: name, source: source, client: client, logger: logger}
}

// Name returns the port name used when registering it on the hub.
func (p *CloudEventsPort) Name() string { return p.name }

// Publish converts the event to a CloudEvent and sends it.
func (p *CloudEventsPort) Publish(ctx context.Context, event Event) error {
	ce := cloudevents.NewEvent()
	ce.SetID(event.ID)
	ce.SetSource(p.source)
	ce.SetType(event.Type)
	ce.SetTime(event.Timestamp)
	if err := ce.SetData(cloudevents.ApplicationJSON, event.Payload); err != nil {
		return fmt.Errorf("%w: encoding event %s: %w", ErrEventDeliveryFailed, event.ID, err)
	}
	for key, value := range event.Metadata {
		if key == MetadataBrokerOrigin {
			continue
		}
		ce.SetExtension(key, value)
	}

	if result := p.client.Send(ctx, ce); cloudevents.IsUndelivered(result) {
		return fmt.Errorf("%w: port %s: %w", ErrEventDeliveryFailed, p.name, result)
	}
	return nil
}

// PublishBatch sends each event in order, stopping at the first failure.
func (p *CloudEventsPort) PublishBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// IsReady reports whether the port has a client.
func (p *CloudEventsPort) IsReady() (bool, error) {
	return p.client != nil, nil
}

// Subscribe starts a receiver that unwraps inbound CloudEvents and hands
// them to the listener.
func (p *CloudEventsPort) Subscribe(ctx context.Context, listener Listener) error {
	if listener == nil {
		return ErrListenerNil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRx != nil {
		p.cancelRx()
	}
	rxCtx, cancel := context.WithCancel(ctx)
	p.cancelRx = cancel

	go func() {
		err := p.client.StartReceiver(rxCtx, func(ctx context.Context, ce cloudevents.Event) error {
			var payload interface{}
			if err := ce.DataAs(&payload); err != nil {
				payload = ce.Data()
			}
			event := Event{
				ID:        ce.ID(),
				Type:      ce.Type(),
				Payload:   payload,
				Priority:  PriorityNormal,
				Timestamp: ce.Time(),
				Metadata:  map[string]interface{}{MetadataBrokerOrigin: p.name},
			}
			return listener(ctx, event)
		})
		if err != nil && rxCtx.Err() == nil {
			p.logger.Error("Broker port receiver stopped", "port", p.name, "error", err)
		}
	}()
	return nil
}

// Unsubscribe stops the inbound receiver.
func (p *CloudEventsPort) Unsubscribe(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRx == nil {
		return fmt.Errorf("%w: port %s has no subscription", ErrAdapterDisconnectionFailed, p.name)
	}
	p.cancelRx()
	p.cancelRx = nil
	return nil
}

// IsSubscribed reports whether the receiver is running.
func (p *CloudEventsPort) IsSubscribed() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelRx != nil, nil
}
