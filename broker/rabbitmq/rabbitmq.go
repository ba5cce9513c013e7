// Package rabbitmq implements the broker.Broker contract over a
// streadway/amqp topic exchange, generalizing the teacher's manual
// connect/declare/bind/consume/publish sequence.
package rabbitmq

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ose-micro/core/logger"
	"github.com/ose-micro/core/tracing"
	"github.com/streadway/amqp"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker"
	"github.com/ose-micro/bus/topic"
)

// Adapter is the streadway/amqp-backed broker.Broker implementation.
type Adapter struct {
	cfg    bus.Config
	log    logger.Logger
	tracer tracing.Tracer

	conn    *amqp.Connection
	channel *amqp.Channel
}

// New returns an Adapter for cfg. Connect must be called before any other
// operation.
func New(cfg bus.Config, log logger.Logger, tracer tracing.Tracer) *Adapter {
	return &Adapter{cfg: cfg.WithDefaults(), log: log, tracer: tracer}
}

var _ broker.Broker = (*Adapter)(nil)

// Connect dials the broker with an exponential backoff retry loop
// (replacing the teacher's fixed time.Sleep loop), opens a channel, and
// declares the configured topic exchange. Calling it again while the
// connection is still open is a no-op.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.conn != nil && !a.conn.IsClosed() {
		return nil
	}

	_, span := a.tracer.Start(ctx, "rabbitmq.Connect")
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.ReconnectInitialInterval
	bo.MaxElapsedTime = a.cfg.ReconnectMaxElapsed

	var conn *amqp.Connection
	operation := func() error {
		c, err := amqp.Dial(a.cfg.URL())
		if err != nil {
			a.log.Warn("retrying broker connection", "error", err)
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		span.RecordError(err)
		a.log.Error("failed to connect to broker", "error", err)
		return bus.NewBrokerUnavailable(err)
	}

	ch, err := conn.Channel()
	if err != nil {
		span.RecordError(err)
		a.log.Error("failed to open channel", "error", err)
		return bus.NewBrokerUnavailable(err)
	}

	if err := ch.ExchangeDeclare(a.cfg.ExchangeName, "topic", true, false, false, false, nil); err != nil {
		span.RecordError(err)
		a.log.Error("failed to declare exchange", "exchange", a.cfg.ExchangeName, "error", err)
		return bus.NewBrokerUnavailable(err)
	}

	a.conn = conn
	a.channel = ch
	a.log.Info("broker ready", "exchange", a.cfg.ExchangeName, "host", a.cfg.Host)
	return nil
}

// DeclareQueue implements broker.Broker.
func (a *Adapter) DeclareQueue(ctx context.Context, queue string) error {
	if strings.TrimSpace(queue) == "" {
		return bus.NewInvalidArgument("queue", "must not be empty or whitespace")
	}
	_, err := a.channel.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		a.log.Error("failed to declare queue", "queue", queue, "error", err)
		return bus.NewBrokerUnavailable(err)
	}
	return nil
}

// Bind implements broker.Broker.
func (a *Adapter) Bind(ctx context.Context, queue, pattern string) error {
	if strings.TrimSpace(queue) == "" {
		return bus.NewInvalidArgument("queue", "must not be empty or whitespace")
	}
	if !topic.ValidPattern(pattern) {
		return bus.NewInvalidArgument("pattern", "must be a non-empty, well-formed topic pattern")
	}
	if err := a.channel.QueueBind(queue, pattern, a.cfg.ExchangeName, false, nil); err != nil {
		a.log.Error("failed to bind queue", "queue", queue, "pattern", pattern, "error", err)
		return bus.NewBrokerUnavailable(err)
	}
	return nil
}

// Consume implements broker.Broker: a message is acked only once handler
// returns nil, and nacked without requeue on any handler failure, per the
// deliberate no-redelivery policy.
func (a *Adapter) Consume(ctx context.Context, queue string, handler broker.DeliveryHandler) error {
	if handler == nil {
		return bus.NewInvalidArgument("handler", "must not be nil")
	}

	msgs, err := a.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		a.log.Error("failed to consume queue", "queue", queue, "error", err)
		return bus.NewBrokerUnavailable(err)
	}

	a.log.Info("consumer ready", "queue", queue)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					a.log.Warn("consumer channel closed", "queue", queue)
					return
				}
				a.deliver(ctx, queue, d, handler)
			}
		}
	}()
	return nil
}

func (a *Adapter) deliver(ctx context.Context, queue string, d amqp.Delivery, handler broker.DeliveryHandler) {
	dctx, span := a.tracer.Start(ctx, "rabbitmq.Consume")
	defer span.End()

	env := deliveryToEnvelope(d)
	if err := handler(dctx, env); err != nil {
		span.RecordError(err)
		a.log.Error("handler failed, message will not be redelivered", "queue", queue, "routingKey", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Publish implements broker.Broker. Command replies bypass the topic
// exchange and publish directly to the reply-to queue via the default
// exchange, the same way RabbitMQ's direct-reply convention routes a
// command-reply to an exclusive, unbound private queue.
func (a *Adapter) Publish(ctx context.Context, routingKey string, env *bus.Envelope) error {
	_, span := a.tracer.Start(ctx, "rabbitmq.Publish")
	defer span.End()

	if env == nil || env.Body == nil {
		return bus.NewInvalidArgument("envelope", "body must not be nil")
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		Body:          env.Body,
		Timestamp:     time.Now(),
		Type:          string(env.Type),
		CorrelationId: env.CorrelationID,
		ReplyTo:       env.ReplyTo,
	}
	if env.Type == bus.MessageTypeCommandReply {
		pub.Headers = amqp.Table{"success": env.Success}
	}

	exchange := a.cfg.ExchangeName
	key := routingKey
	if env.Type == bus.MessageTypeCommandReply {
		exchange = ""
		key = env.ReplyTo
	}

	if err := a.channel.Publish(exchange, key, false, false, pub); err != nil {
		span.RecordError(err)
		a.log.Error("failed to publish message", "routingKey", routingKey, "error", err)
		return bus.NewBrokerUnavailable(err)
	}
	a.log.Debug("published message", "routingKey", routingKey, "type", env.Type)
	return nil
}

// DeclareReplyQueue implements broker.Broker.
func (a *Adapter) DeclareReplyQueue(ctx context.Context) (string, error) {
	q, err := a.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		a.log.Error("failed to declare reply queue", "error", err)
		return "", bus.NewBrokerUnavailable(err)
	}
	return q.Name, nil
}

// Close implements broker.Broker.
func (a *Adapter) Close() error {
	var firstErr error
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			firstErr = err
			a.log.Warn("failed to close channel", "error", err)
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.log.Warn("failed to close connection", "error", err)
		}
	}
	return firstErr
}

func deliveryToEnvelope(d amqp.Delivery) *bus.Envelope {
	success := true
	if v, ok := d.Headers["success"]; ok {
		if b, ok := v.(bool); ok {
			success = b
		}
	}
	return &bus.Envelope{
		RoutingKey:    d.RoutingKey,
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		Type:          bus.MessageType(d.Type),
		Success:       success,
	}
}
