package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// versionTable is the single-row marker table maintained by the external
// migration tool. Its presence and content identify the applied revision.
const versionTable = "alembic_version"

// Catalog answers questions about the live database schema. It is stateless;
// every method issues fresh queries so callers always observe current truth.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog creates a Catalog backed by the given connection pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// State is an ephemeral snapshot of the live schema: the applied migration
// version, which of the given tables exist, and each known enum's live labels.
// It is recomputed on every probe and never persisted.
type State struct {
	Version string
	Tables  map[string]bool
	Enums   map[string][]string
}

// TableExists reports whether a table with the given name exists in the
// public schema.
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool

	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS(
		    SELECT 1 FROM information_schema.tables
		    WHERE table_schema = 'public' AND table_name = $1
		 )`, table,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}

	return exists, nil
}

// MissingTables returns the subset of required that does not exist in the
// public schema, preserving the order of the input list.
func (c *Catalog) MissingTables(ctx context.Context, required []string) ([]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' AND table_name = ANY($1)`,
		required,
	)
	if err != nil {
		return nil, fmt.Errorf("querying existing tables: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(required))

	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			return nil, fmt.Errorf("scanning table name: %w", scanErr)
		}

		existing[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading existing tables: %w", err)
	}

	var missing []string

	for _, name := range required {
		if !existing[name] {
			missing = append(missing, name)
		}
	}

	return missing, nil
}

// EnumExists reports whether an enumerated type with the given name exists.
func (c *Catalog) EnumExists(ctx context.Context, name string) (bool, error) {
	var exists bool

	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_type WHERE typname = $1 AND typtype = 'e')`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking enum %s: %w", name, err)
	}

	return exists, nil
}

// EnumLabels returns the live label list of an enumerated type in sort order.
// Returns ErrEnumNotFound if no such type exists.
func (c *Catalog) EnumLabels(ctx context.Context, name string) ([]string, error) {
	exists, err := c.EnumExists(ctx, name)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, fmt.Errorf("%s: %w", name, ErrEnumNotFound)
	}

	rows, err := c.pool.Query(ctx,
		`SELECT e.enumlabel
		 FROM pg_enum e
		 JOIN pg_type t ON t.oid = e.enumtypid
		 WHERE t.typname = $1
		 ORDER BY e.enumsortorder`,
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("querying labels for enum %s: %w", name, err)
	}
	defer rows.Close()

	labels, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning labels for enum %s: %w", name, err)
	}

	return labels, nil
}

// ColumnTypes returns a map of column name to udt type name for the given
// table. An absent table yields an empty map, not an error.
func (c *Catalog) ColumnTypes(ctx context.Context, table string) (map[string]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT column_name, udt_name
		 FROM information_schema.columns
		 WHERE table_schema = 'public' AND table_name = $1`,
		table,
	)
	if err != nil {
		return nil, fmt.Errorf("querying columns for %s: %w", table, err)
	}
	defer rows.Close()

	types := make(map[string]string)

	for rows.Next() {
		var name, udt string
		if scanErr := rows.Scan(&name, &udt); scanErr != nil {
			return nil, fmt.Errorf("scanning column for %s: %w", table, scanErr)
		}

		types[name] = udt
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading columns for %s: %w", table, err)
	}

	return types, nil
}

// MigrationVersion reads the external tool's version marker. Returns
// ErrVersionNotFound if the marker table is absent or holds no row.
func (c *Catalog) MigrationVersion(ctx context.Context) (string, error) {
	present, err := c.TableExists(ctx, versionTable)
	if err != nil {
		return "", err
	}

	if !present {
		return "", ErrVersionNotFound
	}

	var version string

	err = c.pool.QueryRow(ctx, `SELECT version_num FROM alembic_version LIMIT 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrVersionNotFound
		}

		return "", fmt.Errorf("reading migration version: %w", err)
	}

	return version, nil
}

// VersionTablePresent reports whether the migration tool's marker table exists.
func (c *Catalog) VersionTablePresent(ctx context.Context) (bool, error) {
	return c.TableExists(ctx, versionTable)
}

// HeldAdvisoryLocks counts advisory locks currently held across the whole
// database, by any session of any process.
func (c *Catalog) HeldAdvisoryLocks(ctx context.Context) (int, error) {
	var count int

	err := c.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_locks WHERE locktype = 'advisory' AND granted`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting advisory locks: %w", err)
	}

	return count, nil
}

// RowCount returns the number of rows in the given table.
func (c *Catalog) RowCount(ctx context.Context, table string) (int64, error) {
	var count int64

	err := c.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize()),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}

	return count, nil
}

// Snapshot assembles an ephemeral State for the registry's required tables
// and known enums. Missing version markers and absent enums are recorded as
// gaps, not errors.
func (c *Catalog) Snapshot(ctx context.Context, reg *Registry) (*State, error) {
	state := &State{
		Tables: make(map[string]bool, len(reg.RequiredTables)),
		Enums:  make(map[string][]string, len(reg.Enums)),
	}

	version, err := c.MigrationVersion(ctx)
	if err != nil && !errors.Is(err, ErrVersionNotFound) {
		return nil, err
	}

	state.Version = version

	missing, err := c.MissingTables(ctx, reg.RequiredTables)
	if err != nil {
		return nil, err
	}

	gone := make(map[string]bool, len(missing))
	for _, name := range missing {
		gone[name] = true
	}

	for _, name := range reg.RequiredTables {
		state.Tables[name] = !gone[name]
	}

	for _, e := range reg.Enums {
		labels, err := c.EnumLabels(ctx, e.Name)
		if err != nil {
			if errors.Is(err, ErrEnumNotFound) {
				continue
			}

			return nil, err
		}

		state.Enums[e.Name] = labels
	}

	return state, nil
}
