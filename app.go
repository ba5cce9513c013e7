package bus

import (
	"context"

	"github.com/ose-micro/core/logger"
)

// Closer is the minimal broker contract App needs at shutdown. Declared
// here instead of imported from package broker to avoid an import cycle
// (broker already imports bus for Envelope).
type Closer interface {
	Close() error
}

// App ties every dispatcher's and the RPC client's consumer goroutines to
// one cancellable context so Shutdown can signal all of them to stop before
// closing the underlying broker connection, per §3's "queue subscriptions
// ... cancelled at shutdown." Shutdown does not wait for those goroutines
// to exit.
type App struct {
	cancel context.CancelFunc
	broker Closer
	log    logger.Logger
}

// NewApp derives a cancellable context from parent for dispatcher.Start
// and rpc.Client calls to share, and returns the App that later cancels
// it. Every consumer started against the returned context exits on
// Shutdown the same way broker/rabbitmq.Adapter.Consume's goroutine exits
// on ctx.Done().
func NewApp(parent context.Context, broker Closer, log logger.Logger) (context.Context, *App) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &App{cancel: cancel, broker: broker, log: log}
}

// Shutdown cancels every consumer goroutine started against the context
// NewApp returned, then closes the broker. It returns once the broker is
// closed, or ctx expires first, whichever happens first.
func (a *App) Shutdown(ctx context.Context) error {
	a.cancel()

	done := make(chan error, 1)
	go func() { done <- a.broker.Close() }()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("error closing broker during shutdown", "error", err)
		} else {
			a.log.Info("shutdown complete")
		}
		return err
	case <-ctx.Done():
		a.log.Warn("shutdown deadline exceeded while closing broker")
		return ctx.Err()
	}
}
