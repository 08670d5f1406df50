package enumtype

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqasim81/schema-orchestrator/internal/audit"
	"github.com/aqasim81/schema-orchestrator/internal/database"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// duplicateObject is the SQLSTATE raised when a racing peer created the
// type between our existence check and our CREATE.
const duplicateObject = "42710"

const defaultLockTimeout = 10 * time.Second

// Outcome is the tagged result of an idempotent DDL operation. "Already
// exists" is an expected alternate outcome under concurrent invocation,
// not an error.
type Outcome string

// Outcome values.
const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeAdded         Outcome = "added"
	OutcomeDropped       Outcome = "dropped"
	OutcomeAbsent        Outcome = "absent"
)

// Position selects where a new enum value is inserted relative to a neighbor.
type Position string

// Position values.
const (
	PositionBefore Position = "before"
	PositionAfter  Position = "after"
)

// CatalogReader is the slice of catalog introspection the manager needs.
type CatalogReader interface {
	EnumExists(ctx context.Context, name string) (bool, error)
	EnumLabels(ctx context.Context, name string) ([]string, error)
}

// Auditor records mutating schema changes.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
}

// lockReleaser is returned by lockFn and must be released when done.
type lockReleaser interface {
	Release(ctx context.Context) error
}

// lockFunc acquires the advisory lock guarding a resource.
type lockFunc func(ctx context.Context, resource string) (lockReleaser, error)

// execFunc executes one DDL statement.
type execFunc func(ctx context.Context, sql string) error

// Manager creates, extends, and drops database enumerated types safely
// under concurrent invocation from multiple independent processes. All
// cross-process coordination goes through database advisory locks; an
// in-process mutex would not protect peers on other machines.
type Manager struct {
	pool        *pgxpool.Pool
	catalog     CatalogReader
	auditor     Auditor
	logger      *slog.Logger
	lockTimeout time.Duration
	acquireLock lockFunc
	execDDL     execFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout bounds the blocking advisory-lock wait.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// withLockFunc overrides lock acquisition for tests.
func withLockFunc(fn lockFunc) Option {
	return func(m *Manager) { m.acquireLock = fn }
}

// withExecFunc overrides DDL execution for tests.
func withExecFunc(fn execFunc) Option {
	return func(m *Manager) { m.execDDL = fn }
}

// New creates a Manager with the given pool, catalog, and auditor.
func New(pool *pgxpool.Pool, catalog CatalogReader, auditor Auditor, opts ...Option) *Manager {
	m := &Manager{
		pool:        pool,
		catalog:     catalog,
		auditor:     auditor,
		logger:      slog.Default(),
		lockTimeout: defaultLockTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.acquireLock == nil {
		m.acquireLock = func(ctx context.Context, resource string) (lockReleaser, error) {
			return database.AcquireLock(ctx, m.pool, m.logger, resource, m.lockTimeout)
		}
	}

	if m.execDDL == nil {
		m.execDDL = func(ctx context.Context, sql string) error {
			// ALTER TYPE ... ADD VALUE cannot run inside a transaction
			// block, so all enum DDL executes directly on the pool.
			_, err := m.pool.Exec(ctx, sql)

			return err
		}
	}

	return m
}

// EnsureEnum makes the enumerated type described by e exist with exactly
// its label set. The protocol is check, create, verify: the existence check
// has a residual race window, so a duplicate_object error from a racing
// peer is treated as the AlreadyExists outcome. After any path the live
// catalog is re-queried and must agree with the descriptor; DDL success
// that the catalog disputes is worse than an explicit failure, and is
// surfaced as ErrVerificationFailed.
func (m *Manager) EnsureEnum(ctx context.Context, e schema.EnumType) (Outcome, error) {
	lock, err := m.acquireLock(ctx, "enum:"+e.Name)
	if err != nil {
		return "", fmt.Errorf("locking enum %s: %w", e.Name, err)
	}
	defer lock.Release(ctx) //nolint:errcheck // best-effort release on return

	exists, err := m.catalog.EnumExists(ctx, e.Name)
	if err != nil {
		return "", err
	}

	outcome := OutcomeAlreadyExists

	if !exists {
		outcome, err = m.createEnum(ctx, e)
		if err != nil {
			return "", err
		}
	}

	if err := m.verifyLabels(ctx, e.Name, e.Labels); err != nil {
		return "", err
	}

	if outcome == OutcomeCreated {
		m.recordAudit(ctx, audit.Entry{
			Action:     audit.ActionCreateEnum,
			ObjectName: e.Name,
			Detail:     "labels: " + strings.Join(e.Labels, ", "),
		})
	}

	m.logger.Info("enum ensured", "enum", e.Name, "outcome", string(outcome))

	return outcome, nil
}

// createEnum issues CREATE TYPE, mapping a racing peer's duplicate_object
// to the AlreadyExists outcome.
func (m *Manager) createEnum(ctx context.Context, e schema.EnumType) (Outcome, error) {
	quoted := make([]string, len(e.Labels))
	for i, l := range e.Labels {
		quoted[i] = quoteLiteral(l)
	}

	sql := fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)",
		enumIdent(e), strings.Join(quoted, ", "))

	if err := m.execDDL(ctx, sql); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == duplicateObject {
			m.logger.Info("enum created by a concurrent peer", "enum", e.Name)

			return OutcomeAlreadyExists, nil
		}

		return "", fmt.Errorf("creating enum %s: %w", e.Name, err)
	}

	return OutcomeCreated, nil
}

// AddEnumValue appends value to the named enum, optionally positioned
// before or after neighbor. Idempotent: a value that is already present
// is a success with no DDL.
func (m *Manager) AddEnumValue(
	ctx context.Context,
	name, value string,
	pos Position,
	neighbor string,
) (Outcome, error) {
	lock, err := m.acquireLock(ctx, "enum:"+name)
	if err != nil {
		return "", fmt.Errorf("locking enum %s: %w", name, err)
	}
	defer lock.Release(ctx) //nolint:errcheck // best-effort release on return

	labels, err := m.catalog.EnumLabels(ctx, name)
	if err != nil {
		return "", err
	}

	if slices.Contains(labels, value) {
		m.logger.Info("enum value already present", "enum", name, "value", value)

		return OutcomeAlreadyExists, nil
	}

	sql := fmt.Sprintf("ALTER TYPE %s ADD VALUE %s",
		pgx.Identifier{name}.Sanitize(), quoteLiteral(value))

	if pos != "" {
		if pos != PositionBefore && pos != PositionAfter {
			return "", fmt.Errorf("%w: position %q", ErrInvalidPosition, pos)
		}

		sql += fmt.Sprintf(" %s %s", strings.ToUpper(string(pos)), quoteLiteral(neighbor))
	}

	outcome := OutcomeAdded

	if err := m.execDDL(ctx, sql); err != nil {
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != duplicateObject {
			return "", fmt.Errorf("adding value %q to enum %s: %w", value, name, err)
		}

		outcome = OutcomeAlreadyExists
	}

	after, err := m.catalog.EnumLabels(ctx, name)
	if err != nil {
		return "", err
	}

	if !slices.Contains(after, value) {
		return "", fmt.Errorf("%w: enum %s does not contain %q after ADD VALUE, live labels [%s]",
			ErrVerificationFailed, name, value, strings.Join(after, ", "))
	}

	if outcome == OutcomeAdded {
		m.recordAudit(ctx, audit.Entry{
			Action:     audit.ActionAddEnumValue,
			ObjectName: name,
			Detail:     fmt.Sprintf("value %q position %s %s", value, pos, neighbor),
		})
	}

	m.logger.Info("enum value ensured", "enum", name, "value", value, "outcome", string(outcome))

	return outcome, nil
}

// DropEnum removes the named enum if it exists. Idempotent: dropping an
// absent type is a success with the Absent outcome.
func (m *Manager) DropEnum(ctx context.Context, name string, cascade bool) (Outcome, error) {
	lock, err := m.acquireLock(ctx, "enum:"+name)
	if err != nil {
		return "", fmt.Errorf("locking enum %s: %w", name, err)
	}
	defer lock.Release(ctx) //nolint:errcheck // best-effort release on return

	exists, err := m.catalog.EnumExists(ctx, name)
	if err != nil {
		return "", err
	}

	if !exists {
		return OutcomeAbsent, nil
	}

	sql := "DROP TYPE IF EXISTS " + pgx.Identifier{name}.Sanitize()
	if cascade {
		sql += " CASCADE"
	}

	if err := m.execDDL(ctx, sql); err != nil {
		return "", fmt.Errorf("dropping enum %s: %w", name, err)
	}

	still, err := m.catalog.EnumExists(ctx, name)
	if err != nil {
		return "", err
	}

	if still {
		return "", fmt.Errorf("%w: enum %s still exists after DROP", ErrVerificationFailed, name)
	}

	m.recordAudit(ctx, audit.Entry{
		Action:     audit.ActionDropEnum,
		ObjectName: name,
		Detail:     fmt.Sprintf("cascade=%t", cascade),
	})

	m.logger.Info("enum dropped", "enum", name, "cascade", cascade)

	return OutcomeDropped, nil
}

// SyncAll ensures every enum in the registry, reporting per-enum outcomes.
// Stops at the first failure: a verification failure must halt bootstrap.
func (m *Manager) SyncAll(ctx context.Context, reg *schema.Registry) (map[string]Outcome, error) {
	outcomes := make(map[string]Outcome, len(reg.Enums))

	for _, e := range reg.Enums {
		outcome, err := m.EnsureEnum(ctx, e)
		if err != nil {
			return outcomes, err
		}

		outcomes[e.Name] = outcome
	}

	return outcomes, nil
}

// verifyLabels re-queries the catalog and requires the live label set to
// equal expected exactly, in order.
func (m *Manager) verifyLabels(ctx context.Context, name string, expected []string) error {
	live, err := m.catalog.EnumLabels(ctx, name)
	if err != nil {
		return err
	}

	if !slices.Equal(live, expected) {
		return fmt.Errorf("%w: enum %s live labels [%s] != expected [%s]",
			ErrVerificationFailed, name,
			strings.Join(live, ", "), strings.Join(expected, ", "))
	}

	return nil
}

// recordAudit writes an audit row; failures are logged, not fatal, because
// the schema change itself has already been verified.
func (m *Manager) recordAudit(ctx context.Context, e audit.Entry) {
	if m.auditor == nil {
		return
	}

	if err := m.auditor.Record(ctx, e); err != nil {
		m.logger.Warn("recording audit entry failed",
			"action", e.Action, "object", e.ObjectName, "error", err)
	}
}

// enumIdent renders the schema-qualified type name.
func enumIdent(e schema.EnumType) string {
	if e.Schema != "" {
		return pgx.Identifier{e.Schema, e.Name}.Sanitize()
	}

	return pgx.Identifier{e.Name}.Sanitize()
}

// quoteLiteral renders a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
