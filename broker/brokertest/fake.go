// Package brokertest provides an in-memory broker.Broker fake for testing
// dispatchers and the RPC client without a running AMQP server, mirroring
// the teacher's own preference for exercising bus logic against a real
// dependency only in its network-bound _test.go files.
package brokertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker"
	"github.com/ose-micro/bus/topic"
)

// Fake is a single-process broker.Broker: publishing to a bound queue
// invokes that queue's registered consumer handler on its own goroutine.
// Deliver, by contrast, calls the handler synchronously.
type Fake struct {
	mu        sync.Mutex
	bindings  map[string][]string // queue -> patterns
	consumers map[string]broker.DeliveryHandler
	replyN    int

	// Published records every envelope handed to Publish, for assertions.
	Published []PublishedMessage
}

type PublishedMessage struct {
	RoutingKey string
	Envelope   *bus.Envelope
}

func New() *Fake {
	return &Fake{
		bindings:  make(map[string][]string),
		consumers: make(map[string]broker.DeliveryHandler),
	}
}

func (f *Fake) Connect(ctx context.Context) error { return nil }

func (f *Fake) DeclareQueue(ctx context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bindings[queue]; !ok {
		f.bindings[queue] = nil
	}
	return nil
}

func (f *Fake) Bind(ctx context.Context, queue, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindings[queue] = append(f.bindings[queue], pattern)
	return nil
}

func (f *Fake) Consume(ctx context.Context, queue string, handler broker.DeliveryHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumers[queue] = handler
	return nil
}

// Publish delivers env to every queue whose consumer is registered and
// whose bound pattern matches routingKey, the same way a real topic
// exchange fans a single publish out to every matching binding.
// Command-reply envelopes instead route directly to their reply-to queue's
// consumer, mirroring the rabbitmq adapter's default-exchange direct reply.
func (f *Fake) Publish(ctx context.Context, routingKey string, env *bus.Envelope) error {
	if env == nil || env.Body == nil {
		return bus.NewInvalidArgument("envelope", "body must not be nil")
	}

	f.mu.Lock()
	f.Published = append(f.Published, PublishedMessage{RoutingKey: routingKey, Envelope: env})

	var handlers []broker.DeliveryHandler
	if env.Type == bus.MessageTypeCommandReply {
		if h, ok := f.consumers[env.ReplyTo]; ok {
			handlers = append(handlers, h)
		}
	} else {
		for queue, patterns := range f.bindings {
			for _, p := range patterns {
				m, err := topic.Compile(p)
				if err != nil || !m.Match(routingKey) {
					continue
				}
				if h, ok := f.consumers[queue]; ok {
					handlers = append(handlers, h)
				}
				break
			}
		}
	}
	f.mu.Unlock()

	// Deliveries happen off the publisher's goroutine, the same way a real
	// broker's consumer loop never blocks the publishing call waiting for
	// handler completion.
	for _, h := range handlers {
		h := h
		go func() { _ = h(ctx, env) }()
	}
	return nil
}

func (f *Fake) DeclareReplyQueue(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyN++
	return fmt.Sprintf("reply-queue-fake-%d", f.replyN), nil
}

func (f *Fake) Close() error { return nil }

// Deliver simulates an inbound broker delivery to queue's registered
// consumer, for dispatcher tests driving the consume path directly.
func (f *Fake) Deliver(ctx context.Context, queue string, env *bus.Envelope) error {
	f.mu.Lock()
	handler := f.consumers[queue]
	f.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(ctx, env)
}

var _ broker.Broker = (*Fake)(nil)
