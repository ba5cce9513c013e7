// Package rpc implements the RPC Client: publishes command requests and
// awaits correlated replies on a private reply queue, with a timeout per
// call and no crosstalk between concurrent outstanding calls.
package rpc

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ose-micro/core/logger"
	"github.com/ose-micro/core/tracing"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker"
	"github.com/ose-micro/bus/codec"
)

// slotState is the RPC call slot's terminal outcome, per §4.8.
type slotState int

const (
	slotPending slotState = iota
	slotReply
	slotRemoteError
	slotTimeout
)

type slot struct {
	resultCh chan slotResult
	once     sync.Once
}

type slotResult struct {
	state     slotState
	body      []byte
	remoteErr bus.ErrorBody
}

func newSlot() *slot {
	return &slot{resultCh: make(chan slotResult, 1)}
}

// resolve delivers result to the slot exactly once; later calls are
// discarded, per §4.8's "concurrent resolution attempts after the first
// are discarded."
func (s *slot) resolve(r slotResult) {
	s.once.Do(func() {
		s.resultCh <- r
	})
}

// Client is the RPC Client of §4.6: it owns a lazily-created, exclusive
// reply queue and a concurrent-safe pending-RPC table.
type Client struct {
	broker      broker.Broker
	log         logger.Logger
	tracer      tracing.Tracer
	consumerCtx context.Context

	mu         sync.Mutex
	replyQueue string
	consuming  bool
	pending    sync.Map // correlation id -> *slot
}

// NewClient builds a Client whose reply-queue consumer lives for the
// lifetime of the Client itself, not any individual Call's context.
// consumerCtx should outlive every Call this Client will serve (an
// App-derived context, or context.Background() if the caller manages
// shutdown another way) — otherwise the first Call to trigger the lazy
// consumer would tie every other concurrent/future caller's reply
// delivery to that one call's context, violating §4.6's "many
// outstanding calls may share one reply queue."
func NewClient(consumerCtx context.Context, b broker.Broker, log logger.Logger, tracer tracing.Tracer) *Client {
	return &Client{broker: b, log: log, tracer: tracer, consumerCtx: consumerCtx}
}

// PendingCount reports the number of outstanding RPC calls, for tests
// asserting the pending-RPC table drains after each call resolves.
func (c *Client) PendingCount() int {
	n := 0
	c.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ensureReplyConsumer lazily declares the reply queue and starts its
// consumer exactly once, per §4.6 step 1. The consumer is started against
// c.consumerCtx, the Client's own lifetime, not the ctx of whichever Call
// happens to trigger the lazy start — so one caller's context ending
// never kills reply delivery for every other outstanding or future call
// sharing this Client's reply queue.
func (c *Client) ensureReplyConsumer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consuming {
		return c.replyQueue, nil
	}

	name, err := c.broker.DeclareReplyQueue(ctx)
	if err != nil {
		return "", err
	}
	if err := c.broker.Consume(c.consumerCtx, name, c.handleReply); err != nil {
		return "", err
	}
	c.replyQueue = name
	c.consuming = true
	return name, nil
}

// handleReply implements §4.6's reply consumer: look up the correlation
// id; if present, resolve its slot; if absent, discard and ack (return
// nil either way so the broker adapter always acks a reply delivery).
func (c *Client) handleReply(ctx context.Context, env *bus.Envelope) error {
	v, ok := c.pending.Load(env.CorrelationID)
	if !ok {
		c.log.Debug("discarding reply for unknown or resolved correlation id", "correlationId", env.CorrelationID)
		return nil
	}
	s := v.(*slot)

	if env.Success {
		s.resolve(slotResult{state: slotReply, body: env.Body})
		return nil
	}

	var errBody bus.ErrorBody
	if err := codec.Decode(env.Body, &errBody); err != nil {
		errBody = bus.ErrorBody{Kind: "CodecError", Message: err.Error()}
	}
	s.resolve(slotResult{state: slotRemoteError, remoteErr: errBody})
	return nil
}

// Call publishes a command request to routingKey and waits up to timeout
// for its correlated reply, per §4.6 step-by-step and §4.8's state
// machine. The decoded reply is written into result.
func (c *Client) Call(ctx context.Context, routingKey string, request any, result any, timeout time.Duration) error {
	if strings.TrimSpace(routingKey) == "" {
		return bus.NewInvalidArgument("routingKey", "must not be empty")
	}

	ctx, span := c.tracer.Start(ctx, "rpc.Call")
	defer span.End()

	replyQueue, err := c.ensureReplyConsumer(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	body, err := codec.Encode(request)
	if err != nil {
		return bus.NewCodecError(err)
	}

	correlationID := strings.ReplaceAll(uuid.NewString(), "-", "")
	s := newSlot()
	c.pending.Store(correlationID, s)
	defer c.pending.Delete(correlationID)

	req := &bus.Envelope{
		RoutingKey:    routingKey,
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       replyQueue,
		Type:          bus.MessageTypeCommandReq,
	}
	if err := c.broker.Publish(ctx, routingKey, req); err != nil {
		span.RecordError(err)
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-s.resultCh:
		switch r.state {
		case slotReply:
			if err := codec.Decode(r.body, result); err != nil {
				return bus.NewCodecError(err)
			}
			return nil
		case slotRemoteError:
			return &bus.RemoteCommandError{Kind: r.remoteErr.Kind, Message: r.remoteErr.Message}
		default:
			return &bus.RpcTimeoutError{RoutingKey: routingKey}
		}
	case <-timer.C:
		s.resolve(slotResult{state: slotTimeout})
		return &bus.RpcTimeoutError{RoutingKey: routingKey}
	case <-ctx.Done():
		s.resolve(slotResult{state: slotTimeout})
		return ctx.Err()
	}
}
