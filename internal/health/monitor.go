// Package health aggregates the engine's checks into one report and
// turns detected problems into approval-gated recovery tasks. Detection
// is automatic and frequent; remediation is gated, infrequent, and
// auditable — that separation is deliberate.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// CatalogReader is the slice of catalog introspection the monitor needs.
type CatalogReader interface {
	MigrationVersion(ctx context.Context) (string, error)
	VersionTablePresent(ctx context.Context) (bool, error)
	MissingTables(ctx context.Context, required []string) ([]string, error)
	EnumLabels(ctx context.Context, name string) ([]string, error)
	HeldAdvisoryLocks(ctx context.Context) (int, error)
}

// Report is the aggregate of all health checks. Every issue carries a
// paired, human-actionable recommendation at the same index.
type Report struct {
	Healthy               bool      `json:"healthy"`
	MigrationTablePresent bool      `json:"migration_table_present"`
	MigrationVersion      string    `json:"migration_version,omitempty"`
	EnumsValid            bool      `json:"enums_valid"`
	InvalidEnums          []string  `json:"invalid_enums,omitempty"`
	TablesConsistent      bool      `json:"tables_consistent"`
	MissingTables         []string  `json:"missing_tables,omitempty"`
	AdvisoryLocks         int       `json:"advisory_locks"`
	Issues                []string  `json:"issues"`
	Recommendations       []string  `json:"recommendations"`
	CheckedAt             time.Time `json:"checked_at"`
}

// Monitor runs the health checks on its own schedule, independently of
// bootstrap, against the same connection manager.
type Monitor struct {
	catalog  CatalogReader
	registry *schema.Registry
	tasks    *TaskStore
	logger   *slog.Logger
}

// NewMonitor creates a Monitor. tasks may be nil if recovery emission is
// not wanted (e.g. one-shot CLI health checks).
func NewMonitor(catalog CatalogReader, reg *schema.Registry, tasks *TaskStore, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{catalog: catalog, registry: reg, tasks: tasks, logger: logger}
}

// CheckHealth aggregates the migration version marker, enum validity,
// required-table presence, and held advisory lock count into one report.
func (m *Monitor) CheckHealth(ctx context.Context) (*Report, error) {
	report := &Report{
		EnumsValid:       true,
		TablesConsistent: true,
		CheckedAt:        time.Now(),
	}

	if err := m.checkMigrationMarker(ctx, report); err != nil {
		return nil, err
	}

	if err := m.checkEnums(ctx, report); err != nil {
		return nil, err
	}

	if err := m.checkTables(ctx, report); err != nil {
		return nil, err
	}

	if err := m.checkLocks(ctx, report); err != nil {
		return nil, err
	}

	report.Healthy = len(report.Issues) == 0

	m.logger.Info("health check complete",
		"healthy", report.Healthy, "issues", len(report.Issues))

	return report, nil
}

func (m *Monitor) checkMigrationMarker(ctx context.Context, report *Report) error {
	present, err := m.catalog.VersionTablePresent(ctx)
	if err != nil {
		return err
	}

	report.MigrationTablePresent = present

	if !present {
		report.addIssue(
			"migration version table is missing",
			"run the bootstrap entry point so the migration tool can initialize the schema",
		)

		return nil
	}

	version, err := m.catalog.MigrationVersion(ctx)
	if err != nil {
		if errors.Is(err, schema.ErrVersionNotFound) {
			report.addIssue(
				"migration version table exists but holds no revision",
				"re-run the migration tool; an interrupted run may have left the marker empty",
			)

			return nil
		}

		return err
	}

	report.MigrationVersion = version

	return nil
}

func (m *Monitor) checkEnums(ctx context.Context, report *Report) error {
	for _, e := range m.registry.Enums {
		live, err := m.catalog.EnumLabels(ctx, e.Name)
		if err != nil {
			if errors.Is(err, schema.ErrEnumNotFound) {
				report.EnumsValid = false
				report.InvalidEnums = append(report.InvalidEnums, e.Name)
				report.addIssue(
					fmt.Sprintf("enum %s does not exist", e.Name),
					fmt.Sprintf("run 'enum sync' to create %s with labels [%s]",
						e.Name, strings.Join(e.Labels, ", ")),
				)

				continue
			}

			return err
		}

		if !slices.Equal(live, e.Labels) {
			report.EnumsValid = false
			report.InvalidEnums = append(report.InvalidEnums, e.Name)
			report.addIssue(
				fmt.Sprintf("enum %s live labels [%s] do not match expected [%s]",
					e.Name, strings.Join(live, ", "), strings.Join(e.Labels, ", ")),
				fmt.Sprintf("inspect how %s diverged before altering it; labels cannot be removed in place", e.Name),
			)
		}
	}

	return nil
}

func (m *Monitor) checkTables(ctx context.Context, report *Report) error {
	missing, err := m.catalog.MissingTables(ctx, m.registry.RequiredTables)
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		report.TablesConsistent = false
		report.MissingTables = missing
		report.addIssue(
			fmt.Sprintf("required tables missing for current migration version: %s",
				strings.Join(missing, ", ")),
			"re-run the migration tool or the bootstrap entry point",
		)
	}

	return nil
}

func (m *Monitor) checkLocks(ctx context.Context, report *Report) error {
	count, err := m.catalog.HeldAdvisoryLocks(ctx)
	if err != nil {
		return err
	}

	report.AdvisoryLocks = count

	// Locks held outside an active migration window suggest a stuck peer.
	if count > 0 {
		report.addIssue(
			fmt.Sprintf("%d advisory lock(s) currently held", count),
			"if no migration is in progress, inspect pg_locks and pg_stat_activity for a stuck process",
		)
	}

	return nil
}

// TriggerRecovery emits one high-priority, approval-gated task per issue
// class in the report. It never executes remediation itself.
func (m *Monitor) TriggerRecovery(ctx context.Context, report *Report) ([]Task, error) {
	if m.tasks == nil || report.Healthy {
		return nil, nil
	}

	var queued []Task

	enqueue := func(taskType, taskContext string) error {
		task, err := m.tasks.Enqueue(ctx, taskType, "high", taskContext)
		if err != nil {
			return err
		}

		if task != nil {
			queued = append(queued, *task)
			m.logger.Warn("recovery task queued for approval",
				"task", task.ID, "type", task.Type, "context", task.Context)
		}

		return nil
	}

	if !report.TablesConsistent || !report.MigrationTablePresent {
		detail := "missing tables: " + strings.Join(report.MissingTables, ", ")
		if err := enqueue(TaskRerunMigration, detail); err != nil {
			return queued, err
		}
	}

	if !report.EnumsValid {
		detail := "invalid enums: " + strings.Join(report.InvalidEnums, ", ")
		if err := enqueue(TaskResyncEnums, detail); err != nil {
			return queued, err
		}
	}

	if report.AdvisoryLocks > 0 {
		detail := fmt.Sprintf("%d advisory lock(s) held outside a migration window", report.AdvisoryLocks)
		if err := enqueue(TaskInvestigateLocks, detail); err != nil {
			return queued, err
		}
	}

	return queued, nil
}

// Run checks health on the given interval until ctx is cancelled,
// queueing recovery tasks for any problems found.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.CheckHealth(ctx)
			if err != nil {
				m.logger.Error("health check failed", "error", err)

				continue
			}

			if _, err := m.TriggerRecovery(ctx, report); err != nil {
				m.logger.Error("queueing recovery tasks failed", "error", err)
			}
		}
	}
}

func (r *Report) addIssue(issue, recommendation string) {
	r.Issues = append(r.Issues, issue)
	r.Recommendations = append(r.Recommendations, recommendation)
}
