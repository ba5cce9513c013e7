// Package dispatch wires the Handler Registry to the Broker Adapter: one
// consumer per declared queue, routing each delivery to event fan-out or
// to the single matching command handler.
package dispatch

import (
	"context"
	"sync"

	"github.com/ose-micro/core/logger"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker"
)

// EventDispatcher subscribes to every event queue in the registry and fans
// each delivery out to all matching handlers.
type EventDispatcher struct {
	registry *bus.Registry
	broker   broker.Broker
	log      logger.Logger
}

func NewEventDispatcher(registry *bus.Registry, b broker.Broker, log logger.Logger) *EventDispatcher {
	return &EventDispatcher{registry: registry, broker: b, log: log}
}

// Start declares, binds, and consumes every event queue in the registry.
func (d *EventDispatcher) Start(ctx context.Context) error {
	for _, queue := range d.registry.Queues() {
		kind, _ := d.registry.QueueKind(queue)
		if kind != bus.KindEvent {
			continue
		}
		if err := d.startQueue(ctx, queue); err != nil {
			return err
		}
	}
	return nil
}

func (d *EventDispatcher) startQueue(ctx context.Context, queue string) error {
	if err := d.broker.DeclareQueue(ctx, queue); err != nil {
		return err
	}
	for _, pattern := range d.registry.EventPatterns(queue) {
		if err := d.broker.Bind(ctx, queue, pattern); err != nil {
			return err
		}
	}
	return d.broker.Consume(ctx, queue, func(ctx context.Context, env *bus.Envelope) error {
		d.handleDelivery(ctx, queue, env)
		return nil
	})
}

// handleDelivery implements §4.4: resolve matching descriptors, invoke each
// concurrently, log-and-continue on individual handler failure, and never
// propagate a handler error back to the adapter (so the message is always
// acked once every matched invocation has returned).
func (d *EventDispatcher) handleDelivery(ctx context.Context, queue string, env *bus.Envelope) {
	matched := d.registry.MatchEvents(queue, env.RoutingKey)
	if len(matched) == 0 {
		d.log.Debug("no event handler matched routing key", "queue", queue, "routingKey", env.RoutingKey)
		return
	}

	var wg sync.WaitGroup
	for _, inv := range matched {
		inv := inv
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("event handler panicked", "queue", queue, "routingKey", env.RoutingKey, "panic", r)
				}
			}()
			if err := inv.Invoke(ctx, env.Body); err != nil {
				d.log.Error("event handler failed", "queue", queue, "routingKey", env.RoutingKey, "error", err)
			}
		}()
	}
	wg.Wait()
}
