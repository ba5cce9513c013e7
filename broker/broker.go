// Package broker defines the thin contract dispatchers and the RPC client
// depend on, so they can be tested against an in-memory fake without a
// running AMQP server.
package broker

import (
	"context"

	"github.com/ose-micro/bus"
)

// DeliveryHandler is invoked for each delivery on a consumed queue. The
// Broker guarantees a message is acked only after handler returns nil, and
// nacked without requeue when it returns an error.
type DeliveryHandler func(ctx context.Context, env *bus.Envelope) error

// Broker is the contract the dispatch and rpc packages depend on. Broker
// implementations own the connection/channel lifecycle and serialize
// publishes as required by the underlying transport.
type Broker interface {
	// Connect establishes the underlying connection. Idempotent within one
	// lifecycle; returns BrokerUnavailableError on I/O failure.
	Connect(ctx context.Context) error

	// DeclareQueue creates a durable, non-exclusive queue if absent.
	DeclareQueue(ctx context.Context, queue string) error

	// Bind binds queue to the topic exchange with pattern. Multiple binds
	// to the same queue accumulate.
	Bind(ctx context.Context, queue, pattern string) error

	// Consume begins delivery to handler and returns once the consumer is
	// registered. Delivery continues in the background until ctx is
	// canceled or the underlying channel closes.
	Consume(ctx context.Context, queue string, handler DeliveryHandler) error

	// Publish sends env with the given routing key. Does not wait for
	// broker confirms.
	Publish(ctx context.Context, routingKey string, env *bus.Envelope) error

	// DeclareReplyQueue declares an exclusive, auto-delete queue not
	// bound to any pattern and returns its broker-generated name, for use
	// as an RPC client's private reply queue.
	DeclareReplyQueue(ctx context.Context) (string, error)

	// Close tears down the connection/channel.
	Close() error
}
