// Package migrate invokes the external migration tool and reconciles its
// outcome against the live catalog. The tool is an independently versioned
// artifact, so it stays behind an explicit process boundary instead of
// being linked in.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// Defaults for tool invocation.
const (
	defaultTimeout    = 5 * time.Minute
	defaultRetryDelay = 3 * time.Second
	defaultMaxRetries = 3
)

// CatalogReader answers whether the required tables exist yet.
type CatalogReader interface {
	MissingTables(ctx context.Context, required []string) ([]string, error)
}

// commandFunc runs the tool once and returns its combined output.
// Injectable so tests can swap the subprocess for a double.
type commandFunc func(ctx context.Context) ([]byte, error)

// Runner executes the migration tool as a subprocess with a bounded
// timeout, retrying on failure because a concurrent peer may be running
// the same tool and will eventually leave the catalog correct. After
// every attempt the live catalog is re-checked directly: if the required
// tables exist, the run is a success regardless of this invocation's
// exit code. No advisory lock is taken here — the tool keeps its own
// bookkeeping, and the catalog re-check absorbs races between peers.
type Runner struct {
	command    []string
	dir        string
	required   []string
	catalog    CatalogReader
	logger     *slog.Logger
	timeout    time.Duration
	retryDelay time.Duration
	maxRetries int
	runCommand commandFunc

	// mu serializes attempts within this process.
	mu sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds one tool invocation; the subprocess is killed on expiry.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) { r.timeout = d }
}

// WithRetryDelay sets the fixed delay between attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Runner) { r.retryDelay = d }
}

// WithMaxRetries sets how many times a failed invocation is retried.
func WithMaxRetries(n int) Option {
	return func(r *Runner) { r.maxRetries = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// withCommandFunc overrides subprocess execution for tests.
func withCommandFunc(fn commandFunc) Option {
	return func(r *Runner) { r.runCommand = fn }
}

// New creates a Runner for the given tool command line, working directory,
// required-table list, and catalog.
func New(command []string, dir string, required []string, catalog CatalogReader, opts ...Option) *Runner {
	r := &Runner{
		command:    command,
		dir:        dir,
		required:   required,
		catalog:    catalog,
		logger:     slog.Default(),
		timeout:    defaultTimeout,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.runCommand == nil {
		r.runCommand = r.execTool
	}

	return r
}

// execTool runs one invocation of the external tool with an OS-level
// timeout, capturing stdout and stderr together.
func (r *Runner) execTool(ctx context.Context) ([]byte, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.command[0], r.command[1:]...) //nolint:gosec // command is operator config
	cmd.Dir = r.dir

	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("%w: killed after %s", ErrToolTimeout, r.timeout)
	}

	return out, err
}

// Run attempts the migration until the catalog shows all required tables,
// retrying failed invocations up to maxRetries with a fixed delay. At most
// one attempt runs at a time within this process.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.command) == 0 {
		return ErrNoCommand
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		r.logger.Info("invoking migration tool",
			"attempt", attempt, "max_retries", r.maxRetries,
			"command", r.command, "timeout", r.timeout)

		out, err := r.runCommand(ctx)
		if len(out) > 0 {
			r.logger.Info("migration tool output", "attempt", attempt, "output", string(out))
		}

		if err != nil {
			lastErr = err
			r.logger.Warn("migration tool invocation failed",
				"attempt", attempt, "error", err)
		}

		// Reconcile with the catalog: a peer may have done the work,
		// or our own failed-looking invocation may have completed it.
		missing, checkErr := r.catalog.MissingTables(ctx, r.required)
		if checkErr != nil {
			return checkErr
		}

		if len(missing) == 0 {
			r.logger.Info("required tables present, migration complete", "attempt", attempt)

			return nil
		}

		if err == nil {
			lastErr = fmt.Errorf("%w: tool succeeded but tables still missing: %v",
				ErrTablesStillMissing, missing)
			r.logger.Warn("migration tool exited 0 but tables are missing",
				"attempt", attempt, "missing", missing)
		}

		if attempt == r.maxRetries {
			break
		}

		select {
		case <-time.After(r.retryDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrToolFailed, ctx.Err())
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrToolFailed, r.maxRetries, lastErr)
}
