package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ose-micro/core/logger"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker/brokertest"
	"github.com/ose-micro/bus/codec"
)

type orderPlaced struct {
	ID int `json:"id"`
}

type quoteReq struct {
	SKU string `json:"sku"`
}

type quoteReply struct {
	Price int `json:"price"`
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZap(logger.Config{Environment: "test", Level: "error"})
	require.NoError(t, err)
	return log
}

func TestEventDispatcherFanOut(t *testing.T) {
	reg := bus.NewRegistry()
	var gotH1, gotH2 int
	err := bus.RegisterEvent(reg, "Orders", "order.*", func(ctx context.Context, p orderPlaced) error {
		gotH1 = p.ID
		return nil
	})
	require.NoError(t, err)
	err = bus.RegisterEvent(reg, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error {
		gotH2 = p.ID
		return nil
	})
	require.NoError(t, err)

	fake := brokertest.New()
	d := NewEventDispatcher(reg, fake, testLogger(t))
	require.NoError(t, d.Start(context.Background()))

	body, err := codec.Encode(orderPlaced{ID: 7})
	require.NoError(t, err)
	err = fake.Deliver(context.Background(), "Orders", &bus.Envelope{
		RoutingKey: "order.placed",
		Body:       body,
		Type:       bus.MessageTypeEvent,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, gotH1)
	assert.Equal(t, 7, gotH2)
}

func TestEventDispatcherOneHandlerFailureDoesNotBlockOthers(t *testing.T) {
	reg := bus.NewRegistry()
	var ran bool
	err := bus.RegisterEvent(reg, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error {
		panic("boom")
	})
	require.NoError(t, err)
	err = bus.RegisterEvent(reg, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error {
		ran = true
		return nil
	})
	require.NoError(t, err)

	fake := brokertest.New()
	d := NewEventDispatcher(reg, fake, testLogger(t))
	require.NoError(t, d.Start(context.Background()))

	body, err := codec.Encode(orderPlaced{ID: 1})
	require.NoError(t, err)
	require.NoError(t, fake.Deliver(context.Background(), "Orders", &bus.Envelope{RoutingKey: "order.placed", Body: body}))
	assert.True(t, ran, "second handler did not run after first handler panicked")
}

func TestCommandDispatcherRoundTrip(t *testing.T) {
	reg := bus.NewRegistry()
	err := bus.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, p quoteReq) (quoteReply, error) {
		assert.Equal(t, "X", p.SKU)
		return quoteReply{Price: 42}, nil
	})
	require.NoError(t, err)

	fake := brokertest.New()
	d := NewCommandDispatcher(reg, fake, testLogger(t))
	require.NoError(t, d.Start(context.Background()))

	body, err := codec.Encode(quoteReq{SKU: "X"})
	require.NoError(t, err)
	req := &bus.Envelope{
		RoutingKey:    "price.quote",
		Body:          body,
		CorrelationID: "corr-1",
		ReplyTo:       "reply-q",
		Type:          bus.MessageTypeCommandReq,
	}
	require.NoError(t, fake.Deliver(context.Background(), "Pricing", req))

	require.Len(t, fake.Published, 1)
	reply := fake.Published[0].Envelope
	assert.True(t, reply.Success, "body=%s", reply.Body)

	var got quoteReply
	require.NoError(t, codec.Decode(reply.Body, &got))
	assert.Equal(t, 42, got.Price)
	assert.Equal(t, "corr-1", reply.CorrelationID)
}

func TestCommandDispatcherUnknownCommand(t *testing.T) {
	reg := bus.NewRegistry()
	err := bus.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, p quoteReq) (quoteReply, error) {
		return quoteReply{Price: 42}, nil
	})
	require.NoError(t, err)

	fake := brokertest.New()
	d := NewCommandDispatcher(reg, fake, testLogger(t))
	require.NoError(t, d.Start(context.Background()))

	body, err := codec.Encode(quoteReq{SKU: "X"})
	require.NoError(t, err)
	req := &bus.Envelope{
		RoutingKey:    "price.unknown",
		Body:          body,
		CorrelationID: "corr-2",
		ReplyTo:       "reply-q",
		Type:          bus.MessageTypeCommandReq,
	}
	require.NoError(t, fake.Deliver(context.Background(), "Pricing", req))

	require.Len(t, fake.Published, 1)
	reply := fake.Published[0].Envelope
	assert.False(t, reply.Success, "want false for unknown command")

	var errBody bus.ErrorBody
	require.NoError(t, codec.Decode(reply.Body, &errBody))
	assert.Equal(t, bus.ErrKindUnknownCommand, errBody.Kind)
}

func TestCommandDispatcherHandlerError(t *testing.T) {
	reg := bus.NewRegistry()
	err := bus.RegisterCommand(reg, "Pricing", "price.quote", func(ctx context.Context, p quoteReq) (quoteReply, error) {
		return quoteReply{}, bus.NewHandlerError("NotFound", "sku not found")
	})
	require.NoError(t, err)

	fake := brokertest.New()
	d := NewCommandDispatcher(reg, fake, testLogger(t))
	require.NoError(t, d.Start(context.Background()))

	body, err := codec.Encode(quoteReq{SKU: "missing"})
	require.NoError(t, err)
	req := &bus.Envelope{
		RoutingKey:    "price.quote",
		Body:          body,
		CorrelationID: "corr-3",
		ReplyTo:       "reply-q",
		Type:          bus.MessageTypeCommandReq,
	}
	require.NoError(t, fake.Deliver(context.Background(), "Pricing", req))

	require.Len(t, fake.Published, 1)
	reply := fake.Published[0].Envelope
	assert.False(t, reply.Success)

	var errBody bus.ErrorBody
	require.NoError(t, codec.Decode(reply.Body, &errBody))
	assert.Equal(t, "NotFound", errBody.Kind)
}
