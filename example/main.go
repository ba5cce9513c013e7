package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ose-micro/core/logger"
	"github.com/ose-micro/core/tracing"

	"github.com/ose-micro/bus"
	"github.com/ose-micro/bus/broker/rabbitmq"
	"github.com/ose-micro/bus/codec"
	"github.com/ose-micro/bus/dispatch"
	"github.com/ose-micro/bus/rpc"
)

type userCreated struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type quoteRequest struct {
	SKU string `json:"sku"`
}

type quoteResponse struct {
	Price int `json:"price"`
}

func main() {
	log, _ := logger.NewZap(logger.Config{})

	tracer, _ := tracing.NewOtel(tracing.Config{
		Endpoint:    "localhost:4317",
		ServiceName: "ose-bus-example",
		SampleRatio: 1.0,
	}, log)

	cfg := bus.Config{
		Host:         "localhost",
		Port:         5672,
		Username:     "guest",
		Password:     "guest",
		ExchangeName: "ose.exchange",
		RPCTimeout:   2 * time.Second,
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "error", err)
	}

	registry := bus.NewRegistry()

	if err := bus.RegisterEvent(registry, "UserEvents", "user.created", func(ctx context.Context, u userCreated) error {
		log.Info("received user.created event", "id", u.ID, "name", u.Name)
		return nil
	}); err != nil {
		log.Fatal("failed to register event handler", "error", err)
	}

	if err := bus.RegisterCommand(registry, "Pricing", "price.quote", func(ctx context.Context, req quoteRequest) (quoteResponse, error) {
		return quoteResponse{Price: 42}, nil
	}); err != nil {
		log.Fatal("failed to register command handler", "error", err)
	}

	adapter := rabbitmq.New(cfg, log, tracer)
	if err := adapter.Connect(context.Background()); err != nil {
		log.Fatal("failed to connect to broker", "error", err)
	}

	ctx, app := bus.NewApp(context.Background(), adapter, log)

	events := dispatch.NewEventDispatcher(registry, adapter, log)
	if err := events.Start(ctx); err != nil {
		log.Fatal("failed to start event dispatcher", "error", err)
	}

	commands := dispatch.NewCommandDispatcher(registry, adapter, log)
	if err := commands.Start(ctx); err != nil {
		log.Fatal("failed to start command dispatcher", "error", err)
	}

	// client's reply-queue consumer is started against the App's context,
	// not any one Call's, so it outlives every individual request.
	client := rpc.NewClient(ctx, adapter, log, tracer)

	go func() {
		time.Sleep(2 * time.Second)

		body, _ := codec.Encode(userCreated{ID: "user-123", Name: "Dev Isho"})
		env := &bus.Envelope{RoutingKey: "user.created", Type: bus.MessageTypeEvent, Body: body}
		if err := adapter.Publish(ctx, env.RoutingKey, env); err != nil {
			log.Error("publish failed", "error", err)
		}

		var reply quoteResponse
		if err := client.Call(ctx, "price.quote", quoteRequest{SKU: "X"}, &reply, cfg.RPCTimeout); err != nil {
			log.Error("rpc call failed", "error", err)
			return
		}
		log.Info("received quote", "price", reply.Price)
	}()

	log.Info("bus example running, press Ctrl+C to exit")
	waitForSignal()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not complete cleanly", "error", err)
	}
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
