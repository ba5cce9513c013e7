package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestRegisterEventFanOut(t *testing.T) {
	r := NewRegistry()
	var h1, h2 int

	err := RegisterEvent(r, "Orders", "order.*", func(ctx context.Context, p orderPlaced) error {
		h1 = p.ID
		return nil
	})
	require.NoError(t, err)
	err = RegisterEvent(r, "Orders", "order.placed", func(ctx context.Context, p orderPlaced) error {
		h2 = p.ID
		return nil
	})
	require.NoError(t, err)

	matched := r.MatchEvents("Orders", "order.placed")
	require.Len(t, matched, 2)
	for _, d := range matched {
		assert.NoError(t, d.Invoke(context.Background(), []byte(`{"id":7}`)))
	}
	assert.Equal(t, 7, h1)
	assert.Equal(t, 7, h2)
}

func TestRegisterCommandUniqueRoutingKey(t *testing.T) {
	r := NewRegistry()
	fn := func(ctx context.Context, p quoteReq) (quoteReply, error) {
		return quoteReply{Price: 42}, nil
	}
	require.NoError(t, RegisterCommand(r, "Pricing", "price.quote", fn))

	err := RegisterCommand(r, "Pricing", "price.quote", fn)
	assert.IsType(t, &HandlerRegistrationError{}, err)
}

func TestHomogeneityRejection(t *testing.T) {
	r := NewRegistry()
	err := RegisterEvent(r, "Mixed", "a.b", func(ctx context.Context, p orderPlaced) error {
		return nil
	})
	require.NoError(t, err)

	err = RegisterCommand(r, "Mixed", "a.b", func(ctx context.Context, p quoteReq) (quoteReply, error) {
		return quoteReply{}, nil
	})
	assert.IsType(t, &HandlerRegistrationError{}, err)
}

func TestRegisterRejectsEmptyQueueName(t *testing.T) {
	r := NewRegistry()
	err := RegisterEvent(r, "  ", "a.b", func(ctx context.Context, p orderPlaced) error { return nil })
	assert.IsType(t, &InvalidArgumentError{}, err)
}

func TestLookupCommandMissing(t *testing.T) {
	r := NewRegistry()
	err := RegisterCommand(r, "Pricing", "price.quote", func(ctx context.Context, p quoteReq) (quoteReply, error) {
		return quoteReply{}, nil
	})
	require.NoError(t, err)

	_, ok := r.LookupCommand("Pricing", "price.unknown")
	assert.False(t, ok)
}
