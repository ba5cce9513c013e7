package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ose-micro/core/logger"
)

type fakeCloser struct {
	closed bool
	err    error
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func testLogger(t *testing.T) logger.Logger {
	t.Helper()
	log, err := logger.NewZap(logger.Config{Environment: "test", Level: "error"})
	require.NoError(t, err)
	return log
}

func TestAppShutdownCancelsContextAndClosesBroker(t *testing.T) {
	closer := &fakeCloser{}
	ctx, app := NewApp(context.Background(), closer, testLogger(t))

	require.NoError(t, app.Shutdown(context.Background()))
	assert.True(t, closer.closed, "Shutdown did not close the broker")

	select {
	case <-ctx.Done():
	default:
		t.Error("Shutdown did not cancel the context handed to consumers")
	}
}

func TestAppShutdownSurfacesCloseError(t *testing.T) {
	wantErr := errors.New("boom")
	closer := &fakeCloser{err: wantErr}
	_, app := NewApp(context.Background(), closer, testLogger(t))

	assert.Equal(t, wantErr, app.Shutdown(context.Background()))
}
