// Package readiness guards the rest of the process from an incomplete
// schema. It drives the bootstrap state machine, polls the live catalog
// until every required table exists, and exposes a readiness flag that
// lets consumers short-circuit instead of storming an unready database.
package readiness

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for the wait loop.
const (
	defaultPollInterval     = 2 * time.Second
	defaultTimeout          = 5 * time.Minute
	defaultMaxMigrateRounds = 3
	missingPreviewLimit     = 5
)

// ConnectFunc establishes the database connection (with its own retries).
type ConnectFunc func(ctx context.Context) error

// StatusFunc returns the required tables still missing from the catalog.
type StatusFunc func(ctx context.Context) ([]string, error)

// MigrateFunc invokes the migration runner.
type MigrateFunc func(ctx context.Context) error

// Prober composes connection, migration, and catalog verification into a
// single blocking precondition, and carries the readiness flag consulted
// by Graceful.
type Prober struct {
	connect ConnectFunc
	status  StatusFunc
	migrate MigrateFunc
	logger  *slog.Logger

	pollInterval     time.Duration
	timeout          time.Duration
	maxMigrateRounds int

	mu    sync.Mutex
	state State
	ready atomic.Bool
}

// Option configures a Prober.
type Option func(*Prober)

// WithPollInterval sets how often the catalog is re-probed while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(p *Prober) { p.pollInterval = d }
}

// WithTimeout sets the overall bootstrap deadline.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) { p.timeout = d }
}

// WithMaxMigrateRounds bounds how many times verification may loop back
// to another migration attempt while tables are still missing.
func WithMaxMigrateRounds(n int) Option {
	return func(p *Prober) { p.maxMigrateRounds = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) { p.logger = l }
}

// New creates a Prober in the uninitialized state.
func New(connect ConnectFunc, status StatusFunc, migrate MigrateFunc, opts ...Option) *Prober {
	p := &Prober{
		connect:          connect,
		status:           status,
		migrate:          migrate,
		logger:           slog.Default(),
		pollInterval:     defaultPollInterval,
		timeout:          defaultTimeout,
		maxMigrateRounds: defaultMaxMigrateRounds,
		state:            StateUninitialized,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// State returns the current bootstrap state.
func (p *Prober) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Ready reports whether the schema has been verified complete.
func (p *Prober) Ready() bool {
	return p.ready.Load()
}

// SetReady forces the readiness flag. Used by the skip-wait escape hatch
// for local development; production code must go through EnsureReady.
func (p *Prober) SetReady() {
	p.markReady()
}

func (p *Prober) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.logger.Info("bootstrap state transition", "from", string(from), "to", string(to))
}

// CheckSchemaStatus returns the required tables missing from the live catalog.
func (p *Prober) CheckSchemaStatus(ctx context.Context) ([]string, error) {
	return p.status(ctx)
}

// WaitForSchema polls until the missing-table set is empty, returning true
// the instant it is, or false once timeout elapses. It polls no faster
// than interval, and logs a truncated preview of the missing tables at
// each poll. Probe errors are logged and treated as not-ready: the next
// poll may succeed.
func (p *Prober) WaitForSchema(ctx context.Context, timeout, interval time.Duration) bool {
	if p.pollOnce(ctx) {
		p.markReady()

		return true
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if p.pollOnce(ctx) {
				p.markReady()

				return true
			}

			if time.Now().After(deadline) {
				p.logger.Error("schema wait timed out", "timeout", timeout)

				return false
			}
		}
	}
}

// pollOnce probes the catalog and reports whether the schema is complete.
func (p *Prober) pollOnce(ctx context.Context) bool {
	missing, err := p.status(ctx)
	if err != nil {
		p.logger.Warn("schema status probe failed", "error", err)

		return false
	}

	if len(missing) == 0 {
		return true
	}

	p.logger.Info("waiting for schema",
		"missing_count", len(missing), "missing", previewTables(missing))

	return false
}

func (p *Prober) markReady() {
	p.transition(StateReady)
	p.ready.Store(true)
}

// EnsureReady runs the full bootstrap: connect, migrate, verify. While
// tables remain missing it loops back to another migration attempt a
// bounded number of times, splitting the remaining time budget across
// the rounds to tolerate a slow concurrent peer. Returns true only in
// the Ready terminal state.
func (p *Prober) EnsureReady(ctx context.Context) bool {
	p.transition(StateConnecting)

	if err := p.connect(ctx); err != nil {
		p.logger.Error("bootstrap connection failed", "error", err)
		p.transition(StateFailed)

		return false
	}

	p.transition(StateConnected)

	deadline := time.Now().Add(p.timeout)

	for round := 1; round <= p.maxMigrateRounds; round++ {
		p.transition(StateMigrating)

		if err := p.migrate(ctx); err != nil {
			// Not fatal: a peer may still be applying the same
			// migrations, so verification decides.
			p.logger.Warn("migration attempt did not converge",
				"round", round, "error", err)
		}

		p.transition(StateVerifying)

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		window := remaining
		if round < p.maxMigrateRounds {
			window = remaining / time.Duration(p.maxMigrateRounds-round+1)
		}

		if p.WaitForSchema(ctx, window, p.pollInterval) {
			return true
		}
	}

	p.transition(StateFailed)

	return false
}

// previewTables renders at most missingPreviewLimit names, with a count
// of the remainder.
func previewTables(missing []string) string {
	if len(missing) <= missingPreviewLimit {
		return strings.Join(missing, ", ")
	}

	return fmt.Sprintf("%s, +%d more",
		strings.Join(missing[:missingPreviewLimit], ", "),
		len(missing)-missingPreviewLimit)
}

// Graceful executes fn only if the prober's readiness flag is set;
// otherwise it returns def immediately without touching the transport.
// This is the system's main backpressure mechanism during startup and
// recovery: callers degrade to defaults instead of piling queries onto
// a database whose schema is not yet complete.
func Graceful[T any](ctx context.Context, p *Prober, def T, fn func(context.Context) (T, error)) (T, error) {
	if !p.Ready() {
		return def, nil
	}

	return fn(ctx)
}
