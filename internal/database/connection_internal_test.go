package database

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestBackoff_doublesAndCaps(t *testing.T) {
	t.Parallel()

	m := NewManager(WithBaseDelay(time.Second))

	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 2*time.Second, m.backoff(2))
	assert.Equal(t, 4*time.Second, m.backoff(3))
	assert.Equal(t, 8*time.Second, m.backoff(4))
	assert.Equal(t, 16*time.Second, m.backoff(5))
	assert.Equal(t, defaultMaxDelay, m.backoff(6))
	assert.Equal(t, defaultMaxDelay, m.backoff(20))
}

func TestConnect_retriesUntilExhausted(t *testing.T) {
	t.Parallel()

	attempts := 0
	m := NewManager(
		WithMaxRetries(3),
		WithBaseDelay(time.Millisecond),
		WithLogger(discardLogger()),
		withPoolFactory(func(_ context.Context, _ string) (*pgxpool.Pool, error) {
			attempts++

			return nil, errors.New("connection refused")
		}),
	)

	err := m.Connect(context.Background(), "postgres://localhost/db")

	require.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 3, attempts)
	assert.False(t, m.Connected())
}

func TestConnect_succeedsAfterFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	m := NewManager(
		WithMaxRetries(5),
		WithBaseDelay(time.Millisecond),
		WithLogger(discardLogger()),
		withPoolFactory(func(_ context.Context, _ string) (*pgxpool.Pool, error) {
			attempts++
			if attempts < 3 {
				return nil, errors.New("connection refused")
			}

			return new(pgxpool.Pool), nil
		}),
	)

	err := m.Connect(context.Background(), "postgres://localhost/db")

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, m.Connected())
}

func TestConnect_cancelledContextStopsRetrying(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(
		WithMaxRetries(10),
		WithBaseDelay(time.Minute), // would block forever without cancellation
		WithLogger(discardLogger()),
		withPoolFactory(func(_ context.Context, _ string) (*pgxpool.Pool, error) {
			return nil, errors.New("connection refused")
		}),
	)

	err := m.Connect(ctx, "postgres://localhost/db")

	require.ErrorIs(t, err, ErrConnectionFailed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestHealthCheck_notConnected(t *testing.T) {
	t.Parallel()

	m := NewManager(WithLogger(discardLogger()))

	status := m.HealthCheck(context.Background())

	assert.False(t, status.Connected)
	assert.Equal(t, "not connected", status.Error)
}

func TestWithSession_notConnected(t *testing.T) {
	t.Parallel()

	m := NewManager(WithLogger(discardLogger()))

	err := m.WithSession(context.Background(), nil)

	require.ErrorIs(t, err, ErrConnectionFailed)
}
