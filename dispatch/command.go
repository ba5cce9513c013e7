package dispatch

import (
	"context"
	"strings"

	"github.com/ose-micro/core/logger"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker"
	"github.com/ose-micro/bus/codec"
)

// CommandDispatcher subscribes to every command queue in the registry,
// invokes the unique matching handler per request, and publishes a
// correlated reply.
type CommandDispatcher struct {
	registry *bus.Registry
	broker   broker.Broker
	log      logger.Logger
}

func NewCommandDispatcher(registry *bus.Registry, b broker.Broker, log logger.Logger) *CommandDispatcher {
	return &CommandDispatcher{registry: registry, broker: b, log: log}
}

// Start declares, binds, and consumes every command queue in the registry.
func (d *CommandDispatcher) Start(ctx context.Context) error {
	for _, queue := range d.registry.Queues() {
		kind, _ := d.registry.QueueKind(queue)
		if kind != bus.KindCommand {
			continue
		}
		if err := d.startQueue(ctx, queue); err != nil {
			return err
		}
	}
	return nil
}

func (d *CommandDispatcher) startQueue(ctx context.Context, queue string) error {
	if err := d.broker.DeclareQueue(ctx, queue); err != nil {
		return err
	}
	for _, key := range d.registry.CommandRoutingKeys(queue) {
		if err := d.broker.Bind(ctx, queue, key); err != nil {
			return err
		}
	}
	return d.broker.Consume(ctx, queue, func(ctx context.Context, env *bus.Envelope) error {
		d.handleDelivery(ctx, queue, env)
		return nil
	})
}

// handleDelivery implements §4.5. It never returns an error to the broker
// adapter for handler-level failures: the request is always acked once a
// reply has been handed to the adapter for publication, which is what
// makes command execution at-most-once.
func (d *CommandDispatcher) handleDelivery(ctx context.Context, queue string, env *bus.Envelope) {
	if env.Type != bus.MessageTypeCommandReq || strings.TrimSpace(env.CorrelationID) == "" || strings.TrimSpace(env.ReplyTo) == "" {
		if strings.TrimSpace(env.ReplyTo) != "" {
			d.reply(ctx, env, nil, bus.ErrorBody{Kind: bus.ErrKindMalformedCommand, Message: "not a command request, or missing correlation id"})
			return
		}
		d.log.Error("dropping malformed command request", "queue", queue, "routingKey", env.RoutingKey)
		return
	}

	inv, ok := d.registry.LookupCommand(queue, env.RoutingKey)
	if !ok {
		unknown := &bus.UnknownCommandError{RoutingKey: env.RoutingKey}
		d.log.Error("no command registered for routing key", "queue", queue, "routingKey", env.RoutingKey, "correlationId", env.CorrelationID)
		d.reply(ctx, env, nil, bus.ErrorBody{Kind: bus.ErrKindUnknownCommand, Message: unknown.Error()})
		return
	}

	result, err := inv.Invoke(ctx, env.Body)
	if err != nil {
		d.log.Error("command handler failed", "queue", queue, "routingKey", env.RoutingKey, "correlationId", env.CorrelationID, "error", err)
		kind, message := "HandlerError", err.Error()
		switch e := err.(type) {
		case *bus.CodecError:
			kind = bus.ErrKindBadPayload
		case *bus.HandlerError:
			kind, message = e.Kind, e.Message
		}
		d.reply(ctx, env, nil, bus.ErrorBody{Kind: kind, Message: message})
		return
	}

	d.reply(ctx, env, result, bus.ErrorBody{})
}

func (d *CommandDispatcher) reply(ctx context.Context, req *bus.Envelope, successBody []byte, errBody bus.ErrorBody) {
	success := successBody != nil
	body := successBody
	if !success {
		encoded, err := codec.Encode(errBody)
		if err != nil {
			d.log.Error("failed to encode error body", "error", err)
			return
		}
		body = encoded
	}

	reply := &bus.Envelope{
		RoutingKey:    req.ReplyTo,
		Body:          body,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ReplyTo,
		Type:          bus.MessageTypeCommandReply,
		Success:       success,
	}
	if err := d.broker.Publish(ctx, req.ReplyTo, reply); err != nil {
		d.log.Error("failed to publish command reply", "replyTo", req.ReplyTo, "correlationId", req.CorrelationID, "error", err)
	}
}
