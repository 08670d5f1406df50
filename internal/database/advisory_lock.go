package database

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockNotAvailable is the SQLSTATE raised when lock_timeout expires while
// waiting on pg_advisory_lock.
const lockNotAvailable = "55P03"

// LockID maps a resource name deterministically into the advisory-lock id
// space via FNV-64a, folded to a non-negative int64. Two distinct names may
// collide; every protected operation is idempotent, so a collision only
// serializes unrelated work, it never corrupts it.
func LockID(resource string) int64 {
	h := fnv.New64a()
	h.Write([]byte(resource)) //nolint:errcheck // hash.Hash Write never fails

	id := int64(h.Sum64()) //nolint:gosec // deliberate truncation into lock id space
	if id < 0 {
		id = -id
	}

	return id
}

// LockHandle wraps a dedicated pooled connection holding a session-level
// advisory lock. Call Release on every exit path of the protected operation.
type LockHandle struct {
	conn     *pgxpool.Conn
	id       int64
	resource string
	logger   *slog.Logger
}

// AcquireLock blocks until the advisory lock for resource is held, or until
// timeout elapses. On timeout it returns ErrLockTimeout: the protected
// operation must fail loudly rather than proceed unguarded, and a stuck
// peer must not be able to wedge this process forever.
func AcquireLock(
	ctx context.Context,
	pool *pgxpool.Pool,
	logger *slog.Logger,
	resource string,
	timeout time.Duration,
) (*LockHandle, error) {
	id := LockID(resource)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for advisory lock %q: %w", resource, err)
	}

	logger.Debug("acquiring advisory lock", "resource", resource, "lock_id", id, "timeout", timeout)

	// lock_timeout bounds the blocking wait at the statement level.
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET lock_timeout = '%dms'", timeout.Milliseconds())); err != nil {
		conn.Release()

		return nil, fmt.Errorf("setting lock_timeout for %q: %w", resource, err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		// The session goes back to the pool; the timeout override must
		// not leak into whatever statement runs on it next.
		_, _ = conn.Exec(ctx, "SET lock_timeout = DEFAULT")
		conn.Release()

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == lockNotAvailable {
			return nil, fmt.Errorf("%w: resource %q (lock id %d) after %s", ErrLockTimeout, resource, id, timeout)
		}

		return nil, fmt.Errorf("executing pg_advisory_lock for %q: %w", resource, err)
	}

	logger.Debug("advisory lock acquired", "resource", resource, "lock_id", id)

	return &LockHandle{conn: conn, id: id, resource: resource, logger: logger}, nil
}

// Release unlocks and returns the connection to the pool. Safe to call
// more than once and on a nil handle; only the first call does work.
func (h *LockHandle) Release(ctx context.Context) error {
	if h == nil || h.conn == nil {
		return nil
	}

	// Restore the session default before the connection rejoins the
	// pool: pgxpool does not reset session state between checkouts.
	_, resetErr := h.conn.Exec(ctx, "SET lock_timeout = DEFAULT")
	_, unlockErr := h.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", h.id)
	h.conn.Release()
	h.conn = nil

	if err := errors.Join(resetErr, unlockErr); err != nil {
		return fmt.Errorf("releasing advisory lock %q (id %d): %w", h.resource, h.id, err)
	}

	h.logger.Debug("advisory lock released", "resource", h.resource, "lock_id", h.id)

	return nil
}
