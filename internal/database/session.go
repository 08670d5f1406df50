package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// WithSession runs fn as one unit of work on a checked-out session.
// The transaction commits on clean return and rolls back on error or
// panic; the session is returned to the pool on every exit path.
// The transaction boundary equals the checkout boundary.
func (m *Manager) WithSession(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if m.pool == nil {
		return ErrConnectionFailed
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning session transaction: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // rollback on committed tx returns ErrTxClosed

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing session transaction: %w", err)
	}

	return nil
}
