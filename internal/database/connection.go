package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing and retry defaults. The pool is deliberately small: this
// subsystem issues short catalog queries and DDL, not business load.
const (
	defaultMaxConns    = 10
	defaultMinConns    = 2
	defaultMaxRetries  = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultPingTimeout = 3 * time.Second
)

// Manager owns the pooled connection shared by every component of the
// engine. It is constructed once at process start and injected into
// consumers; there is no ambient global pool.
type Manager struct {
	pool       *pgxpool.Pool
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// newPool is injectable so tests can observe retry behavior
	// without a live database.
	newPool func(ctx context.Context, url string) (*pgxpool.Pool, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries sets how many connection attempts are made before giving up.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithBaseDelay sets the backoff base; attempt n waits base * 2^(n-1), capped.
func WithBaseDelay(d time.Duration) Option {
	return func(m *Manager) { m.baseDelay = d }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// withPoolFactory overrides pool creation for tests.
func withPoolFactory(fn func(ctx context.Context, url string) (*pgxpool.Pool, error)) Option {
	return func(m *Manager) { m.newPool = fn }
}

// NewManager creates an unconnected Manager. Call Connect before use.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger:     slog.Default(),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.newPool == nil {
		m.newPool = openPool
	}

	return m
}

// openPool builds the pgx pool with bounded size and pre-checkout
// liveness validation, then pings once to verify connectivity.
func openPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDatabaseURL, err)
	}

	poolCfg.MaxConns = defaultMaxConns
	poolCfg.MinConns = defaultMinConns

	// Pre-ping: a connection that fails a liveness check is discarded
	// instead of being handed to the caller.
	poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		return conn.Ping(ctx) == nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return pool, nil
}

// Connect establishes the pool, retrying with exponential backoff. Each
// failed attempt is logged with its number and error; after maxRetries
// failures the last error is returned wrapped in ErrConnectionFailed,
// without panicking or exiting.
func (m *Manager) Connect(ctx context.Context, databaseURL string) error {
	var lastErr error

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		pool, err := m.newPool(ctx, databaseURL)
		if err == nil {
			m.pool = pool
			m.logger.Info("database connection established",
				"attempt", attempt, "max_conns", defaultMaxConns)

			return nil
		}

		lastErr = err
		m.logger.Warn("database connection attempt failed",
			"attempt", attempt, "max_retries", m.maxRetries, "error", err)

		if attempt == m.maxRetries {
			break
		}

		delay := m.backoff(attempt)
		m.logger.Info("retrying database connection", "next_attempt", attempt+1, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, m.maxRetries, lastErr)
}

// backoff returns baseDelay * 2^(attempt-1) capped at maxDelay.
func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.baseDelay

	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}

	return delay
}

// Pool exposes the underlying pool to sibling components (catalog queries,
// advisory locks). Business code must go through WithSession instead.
func (m *Manager) Pool() *pgxpool.Pool {
	return m.pool
}

// Connected reports whether Connect has succeeded.
func (m *Manager) Connected() bool {
	return m.pool != nil
}

// Close shuts down the pool. Safe to call on an unconnected Manager.
func (m *Manager) Close() {
	if m.pool != nil {
		m.pool.Close()
		m.pool = nil
	}
}

// HealthStatus is the result of a cheap connectivity probe.
type HealthStatus struct {
	Connected  bool   `json:"connected"`
	PoolSize   int32  `json:"pool_size"`
	CheckedOut int32  `json:"checked_out"`
	Error      string `json:"error,omitempty"`
}

// HealthCheck pings the database with a short deadline and reports pool
// statistics. Cheap enough to run on a frequent schedule.
func (m *Manager) HealthCheck(ctx context.Context) HealthStatus {
	if m.pool == nil {
		return HealthStatus{Error: "not connected"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	stat := m.pool.Stat()
	status := HealthStatus{
		PoolSize:   stat.TotalConns(),
		CheckedOut: stat.AcquiredConns(),
	}

	if err := m.pool.Ping(pingCtx); err != nil {
		status.Error = err.Error()

		return status
	}

	status.Connected = true

	return status
}
