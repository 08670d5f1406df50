package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Actions recorded in the audit table.
const (
	ActionCreateEnum   = "create_enum"
	ActionAddEnumValue = "add_enum_value"
	ActionDropEnum     = "drop_enum"
	ActionRepairTable  = "repair_table"
)

// Entry is one audited schema change. BackupTable and RowsCopied are only
// set for table repairs.
type Entry struct {
	ID          uuid.UUID
	Action      string
	ObjectName  string
	Detail      string
	BackupTable string
	RowsCopied  int64
	CreatedAt   time.Time
}

// Log appends schema-change records to the self-bootstrapping
// schema_change_audit table.
type Log struct {
	pool *pgxpool.Pool
}

// NewLog creates a Log backed by the given connection pool.
func NewLog(pool *pgxpool.Pool) *Log {
	return &Log{pool: pool}
}

// EnsureTable creates the audit table if it does not exist.
func (l *Log) EnsureTable(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, createAuditSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTableCreation, err)
	}

	return nil
}

// Record ensures the audit table exists and appends one entry. The
// CREATE TABLE IF NOT EXISTS first solves the chicken-and-egg problem of
// auditing changes before the audit table itself has been created.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if err := l.EnsureTable(ctx); err != nil {
		return err
	}

	var backup *string
	if e.BackupTable != "" {
		backup = &e.BackupTable
	}

	var rows *int64
	if e.BackupTable != "" {
		rows = &e.RowsCopied
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO schema_change_audit (id, action, object_name, detail, backup_table, rows_copied)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), e.Action, e.ObjectName, e.Detail, backup, rows,
	)
	if err != nil {
		return fmt.Errorf("recording audit entry for %s %s: %w", e.Action, e.ObjectName, err)
	}

	return nil
}

// Recent returns the newest limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, action, object_name, detail,
		        COALESCE(backup_table, ''), COALESCE(rows_copied, 0), created_at
		 FROM schema_change_audit
		 ORDER BY created_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		if scanErr := row.Scan(&e.ID, &e.Action, &e.ObjectName, &e.Detail,
			&e.BackupTable, &e.RowsCopied, &e.CreatedAt); scanErr != nil {
			return Entry{}, fmt.Errorf("scanning audit row: %w", scanErr)
		}

		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning audit entries: %w", err)
	}

	return entries, nil
}
