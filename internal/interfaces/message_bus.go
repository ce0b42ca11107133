package interfaces

import "context"

// MessageHandler processes one delivery of a raw payload. A non-nil error
// means the delivery failed; what happens next depends on the bus.
type MessageHandler func(ctx context.Context, payload []byte) error

// MessageBus is implemented by the in-process bus and the durable broker buses.
type MessageBus interface {
	// Publish serializes message onto topic. It does not wait for consumers.
	Publish(ctx context.Context, topic string, message any) error
	// Subscribe registers handler for topic. Deliveries stop when ctx is done or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	// Close stops deliveries, waits for in-flight handlers and releases the bus.
	Close() error
}

// Keyed messages choose their partition or ordering key on brokers that have one.
type Keyed interface {
	MessageKey() string
}
