package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/schema-orchestrator/internal/audit"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// backupTimeFormat names backup tables uniquely per repair.
const backupTimeFormat = "20060102150405"

// Mismatch is one detected divergence between a live column and its
// expectation. Actual is "<missing>" when the column does not exist.
type Mismatch struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s.%s: expected %s, got %s", m.Table, m.Column, m.Expected, m.Actual)
}

// RepairRecord describes one backup-then-drop remediation.
type RepairRecord struct {
	Table       string    `json:"table"`
	BackupTable string    `json:"backup_table,omitempty"`
	RowsCopied  int64     `json:"rows_copied"`
	At          time.Time `json:"at"`
}

// Report aggregates a validate-and-repair pass.
type Report struct {
	IssuesFound []Mismatch     `json:"issues_found"`
	RepairsMade []RepairRecord `json:"repairs_made"`
}

// CatalogReader is the slice of catalog introspection the validator needs.
type CatalogReader interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnTypes(ctx context.Context, table string) (map[string]string, error)
	RowCount(ctx context.Context, table string) (int64, error)
}

// Auditor records repair actions.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// execFunc executes one DDL statement.
type execFunc func(ctx context.Context, sql string) error

// copyFunc copies table into backup and reports the copied and source
// row counts as observed under a single snapshot.
type copyFunc func(ctx context.Context, table, backup string) (copied, source int64, err error)

// Validator detects column-type drift against the registry and remediates
// by backing a drifted table up and dropping it, so the next migration
// pass recreates it with correct types. Destructive but data-preserving:
// nothing is repaired silently — every mismatch and every repair is both
// logged and returned for audit.
type Validator struct {
	pool     *pgxpool.Pool
	catalog  CatalogReader
	registry *schema.Registry
	auditor  Auditor
	logger   *slog.Logger
	backup   bool
	now      func() time.Time
	execDDL  execFunc
	copyRows copyFunc
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithBackup toggles pre-drop backups. Enabled by default; disabling
// makes repair destructive without a safety copy.
func WithBackup(b bool) Option {
	return func(v *Validator) { v.backup = b }
}

// withClock overrides time for deterministic backup names in tests.
func withClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// withExecFunc overrides DDL execution for tests.
func withExecFunc(fn execFunc) Option {
	return func(v *Validator) { v.execDDL = fn }
}

// withCopyFunc overrides the backup copy step for tests.
func withCopyFunc(fn copyFunc) Option {
	return func(v *Validator) { v.copyRows = fn }
}

// New creates a Validator over the registry's expected tables.
func New(pool *pgxpool.Pool, catalog CatalogReader, reg *schema.Registry, auditor Auditor, opts ...Option) *Validator {
	v := &Validator{
		pool:     pool,
		catalog:  catalog,
		registry: reg,
		auditor:  auditor,
		logger:   slog.Default(),
		backup:   true,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.execDDL == nil {
		v.execDDL = func(ctx context.Context, sql string) error {
			_, err := v.pool.Exec(ctx, sql)

			return err
		}
	}

	if v.copyRows == nil {
		v.copyRows = v.snapshotCopy
	}

	return v
}

// snapshotCopy creates the backup inside one repeatable-read transaction,
// so the source count, the copy, and the backup count all see the same
// rows even while writers are active on the table.
func (v *Validator) snapshotCopy(ctx context.Context, table, backup string) (int64, int64, error) {
	tx, err := v.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return 0, 0, err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	var source int64
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&source); err != nil {
		return 0, 0, err
	}

	copySQL := fmt.Sprintf("CREATE TABLE %s AS TABLE %s",
		pgx.Identifier{backup}.Sanitize(), pgx.Identifier{table}.Sanitize())
	if _, err := tx.Exec(ctx, copySQL); err != nil {
		return 0, 0, err
	}

	var copied int64
	if err := tx.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{backup}.Sanitize()).Scan(&copied); err != nil {
		return 0, 0, err
	}

	return copied, source, tx.Commit(ctx)
}

// CheckTableSchema compares the live column types of table against the
// expectation. A totally absent table yields no mismatches: a pending
// migration will create it correctly.
func (v *Validator) CheckTableSchema(ctx context.Context, table schema.Table) ([]Mismatch, error) {
	exists, err := v.catalog.TableExists(ctx, table.Name)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, nil
	}

	live, err := v.catalog.ColumnTypes(ctx, table.Name)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch

	for _, col := range table.Columns {
		actual, ok := live[col.Name]
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Table: table.Name, Column: col.Name,
				Expected: col.Type, Actual: "<missing>",
			})

			continue
		}

		if actual != col.Type {
			mismatches = append(mismatches, Mismatch{
				Table: table.Name, Column: col.Name,
				Expected: col.Type, Actual: actual,
			})
		}
	}

	for _, m := range mismatches {
		v.logger.Warn("schema drift detected",
			"table", m.Table, "column", m.Column,
			"expected", m.Expected, "actual", m.Actual)
	}

	return mismatches, nil
}

// RepairTable backs up and drops a drifted table. When the table holds
// rows and backups are enabled, rows are copied into a uniquely
// timestamped backup table first; the copy and both row counts run under
// one snapshot and must agree, so concurrent writes cannot skew the
// comparison. The drop lets the next migration pass recreate the table.
func (v *Validator) RepairTable(ctx context.Context, table string) (*RepairRecord, error) {
	rec := &RepairRecord{Table: table, At: v.now()}

	rows, err := v.catalog.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}

	if v.backup && rows > 0 {
		backupName := fmt.Sprintf("%s_backup_%s", table, rec.At.UTC().Format(backupTimeFormat))

		copied, source, err := v.copyRows(ctx, table, backupName)
		if err != nil {
			return nil, fmt.Errorf("backing up %s to %s: %w", table, backupName, err)
		}

		if copied != source {
			return nil, fmt.Errorf("%w: backup %s has %d rows, original %s had %d",
				ErrBackupIncomplete, backupName, copied, table, source)
		}

		rec.BackupTable = backupName
		rec.RowsCopied = copied

		v.logger.Info("drifted table backed up",
			"table", table, "backup", backupName, "rows", copied)
	}

	dropSQL := "DROP TABLE " + pgx.Identifier{table}.Sanitize()
	if err := v.execDDL(ctx, dropSQL); err != nil {
		return nil, fmt.Errorf("dropping drifted table %s: %w", table, err)
	}

	v.logger.Info("drifted table dropped for recreation", "table", table)

	if v.auditor != nil {
		if err := v.auditor.Record(ctx, audit.Entry{
			Action:      audit.ActionRepairTable,
			ObjectName:  table,
			Detail:      "dropped for recreation by next migration pass",
			BackupTable: rec.BackupTable,
			RowsCopied:  rec.RowsCopied,
		}); err != nil {
			v.logger.Warn("recording repair audit failed", "table", table, "error", err)
		}
	}

	return rec, nil
}

// ValidateAndRepair checks every table in the registry's repair order
// (children before parents, so drops respect foreign keys) and repairs
// the drifted ones. The report carries every mismatch and every repair.
func (v *Validator) ValidateAndRepair(ctx context.Context) (*Report, error) {
	report := &Report{}

	for _, name := range v.registry.RepairOrder {
		table, ok := v.registry.Table(name)
		if !ok {
			continue
		}

		mismatches, err := v.CheckTableSchema(ctx, table)
		if err != nil {
			return report, err
		}

		if len(mismatches) == 0 {
			continue
		}

		report.IssuesFound = append(report.IssuesFound, mismatches...)

		rec, err := v.RepairTable(ctx, name)
		if err != nil {
			return report, err
		}

		report.RepairsMade = append(report.RepairsMade, *rec)
	}

	v.logger.Info("drift validation complete",
		"issues", len(report.IssuesFound), "repairs", len(report.RepairsMade))

	return report, nil
}

// Validate runs the checks without repairing. Used by dry-run and by the
// health monitor.
func (v *Validator) Validate(ctx context.Context) ([]Mismatch, error) {
	var all []Mismatch

	for _, name := range v.registry.RepairOrder {
		table, ok := v.registry.Table(name)
		if !ok {
			continue
		}

		mismatches, err := v.CheckTableSchema(ctx, table)
		if err != nil {
			return all, err
		}

		all = append(all, mismatches...)
	}

	return all, nil
}
