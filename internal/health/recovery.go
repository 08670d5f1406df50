package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task types emitted by the monitor.
const (
	TaskRerunMigration   = "rerun_migration"
	TaskRepairDrift      = "repair_drift"
	TaskResyncEnums      = "resync_enums"
	TaskInvestigateLocks = "investigate_locks"
)

// Task statuses. Detection is automatic and frequent; execution is gated
// on explicit operator approval and always auditable.
const (
	TaskPending  = "pending"
	TaskApproved = "approved"
	TaskExecuted = "executed"
)

// createTasksSQL is the DDL for the self-bootstrapping recovery queue.
const createTasksSQL = `CREATE TABLE IF NOT EXISTS schema_recovery_tasks (
    id                UUID PRIMARY KEY,
    task_type         TEXT NOT NULL,
    priority          TEXT NOT NULL DEFAULT 'high',
    status            TEXT NOT NULL DEFAULT 'pending',
    requires_approval BOOLEAN NOT NULL DEFAULT TRUE,
    context           TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    approved_at       TIMESTAMPTZ,
    executed_at       TIMESTAMPTZ
)`

// createPendingTypeIndexSQL keeps at most one pending task per type, so
// concurrent monitors cannot double-queue the same remediation.
const createPendingTypeIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS
    schema_recovery_tasks_pending_type
    ON schema_recovery_tasks (task_type)
    WHERE status = 'pending'`

// ErrTaskNotFound indicates no recovery task exists with the given id.
var ErrTaskNotFound = errors.New("recovery task not found")

// ErrTaskNotApproved indicates execution was requested for a task that has
// not been approved.
var ErrTaskNotApproved = errors.New("recovery task not approved")

// Task is one approval-gated remediation emitted by the health monitor.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	Type             string     `json:"type"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	RequiresApproval bool       `json:"requires_approval"`
	Context          string     `json:"context"`
	CreatedAt        time.Time  `json:"created_at"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	ExecutedAt       *time.Time `json:"executed_at,omitempty"`
}

// TaskStore persists recovery tasks in a self-bootstrapping table.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore backed by the given pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// EnsureTable creates the schema_recovery_tasks table and its pending-type
// index if they do not exist.
func (s *TaskStore) EnsureTable(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTasksSQL); err != nil {
		return fmt.Errorf("creating schema_recovery_tasks table: %w", err)
	}

	if _, err := s.pool.Exec(ctx, createPendingTypeIndexSQL); err != nil {
		return fmt.Errorf("creating schema_recovery_tasks pending index: %w", err)
	}

	return nil
}

// Enqueue inserts a pending, approval-gated task and returns it. Tasks of
// the same type already pending are not duplicated.
func (s *TaskStore) Enqueue(ctx context.Context, taskType, priority, taskContext string) (*Task, error) {
	if err := s.EnsureTable(ctx); err != nil {
		return nil, err
	}

	task := &Task{
		ID:               uuid.New(),
		Type:             taskType,
		Priority:         priority,
		Status:           TaskPending,
		RequiresApproval: true,
		Context:          taskContext,
	}

	// The partial unique index arbitrates duplicates, so two monitors
	// racing on the same type resolve to a single pending task.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO schema_recovery_tasks (id, task_type, priority, context)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (task_type) WHERE status = 'pending' DO NOTHING
		 RETURNING created_at`,
		task.ID, task.Type, task.Priority, task.Context,
	).Scan(&task.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil,nil signals "already queued, nothing new"
	}

	if err != nil {
		return nil, fmt.Errorf("enqueueing recovery task %s: %w", taskType, err)
	}

	return task, nil
}

// List returns all tasks, newest first.
func (s *TaskStore) List(ctx context.Context) ([]Task, error) {
	if err := s.EnsureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, task_type, priority, status, requires_approval, context,
		        created_at, approved_at, executed_at
		 FROM schema_recovery_tasks
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recovery tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := pgx.CollectRows(rows, scanTask)
	if err != nil {
		return nil, fmt.Errorf("scanning recovery tasks: %w", err)
	}

	return tasks, nil
}

// Get returns one task by id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	row, err := s.pool.Query(ctx,
		`SELECT id, task_type, priority, status, requires_approval, context,
		        created_at, approved_at, executed_at
		 FROM schema_recovery_tasks
		 WHERE id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recovery task %s: %w", id, err)
	}
	defer row.Close()

	task, err := pgx.CollectOneRow(row, scanTask)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
		}

		return nil, fmt.Errorf("scanning recovery task %s: %w", id, err)
	}

	return &task, nil
}

// Approve transitions a pending task to approved.
func (s *TaskStore) Approve(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schema_recovery_tasks
		 SET status = 'approved', approved_at = NOW()
		 WHERE id = $1 AND status = 'pending'`, id,
	)
	if err != nil {
		return fmt.Errorf("approving recovery task %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}

	return nil
}

// MarkExecuted transitions an approved task to executed.
func (s *TaskStore) MarkExecuted(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE schema_recovery_tasks
		 SET status = 'executed', executed_at = NOW()
		 WHERE id = $1 AND status = 'approved'`, id,
	)
	if err != nil {
		return fmt.Errorf("marking recovery task %s executed: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s not approved or %w", id, ErrTaskNotFound)
	}

	return nil
}

func scanTask(row pgx.CollectableRow) (Task, error) {
	var t Task
	if err := row.Scan(&t.ID, &t.Type, &t.Priority, &t.Status, &t.RequiresApproval,
		&t.Context, &t.CreatedAt, &t.ApprovedAt, &t.ExecutedAt); err != nil {
		return Task{}, fmt.Errorf("scanning task row: %w", err)
	}

	return t, nil
}
