//go:build integration

package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/schema-orchestrator/internal/health"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

func TestTaskStore_enqueueListApproveExecute(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	store := health.NewTaskStore(pool)

	task, err := store.Enqueue(ctx, health.TaskRerunMigration, "high", "missing tables: workflows")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, health.TaskPending, task.Status)
	assert.True(t, task.RequiresApproval)

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)

	require.NoError(t, store.Approve(ctx, task.ID))

	approved, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, health.TaskApproved, approved.Status)
	assert.NotNil(t, approved.ApprovedAt)

	require.NoError(t, store.MarkExecuted(ctx, task.ID))

	executed, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, health.TaskExecuted, executed.Status)
	assert.NotNil(t, executed.ExecutedAt)
}

func TestTaskStore_enqueue_dedupesPendingType(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	store := health.NewTaskStore(pool)

	first, err := store.Enqueue(ctx, health.TaskResyncEnums, "high", "invalid enums: backupstatus")
	require.NoError(t, err)
	require.NotNil(t, first)

	dup, err := store.Enqueue(ctx, health.TaskResyncEnums, "high", "invalid enums: backupstatus")
	require.NoError(t, err)
	assert.Nil(t, dup, "a second pending task of the same type must not be queued")

	// A different type is still accepted.
	other, err := store.Enqueue(ctx, health.TaskRepairDrift, "high", "drifted: workflows")
	require.NoError(t, err)
	require.NotNil(t, other)

	// Once the first is approved it no longer blocks a new pending task.
	require.NoError(t, store.Approve(ctx, first.ID))

	again, err := store.Enqueue(ctx, health.TaskResyncEnums, "high", "invalid enums: backupstatus")
	require.NoError(t, err)
	require.NotNil(t, again)
}

func TestTaskStore_concurrentEnqueue_singlePendingTask(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	store := health.NewTaskStore(pool)

	// Bootstrap the table up front so the goroutines race only on the insert.
	require.NoError(t, store.EnsureTable(ctx))

	const workers = 8

	var (
		wg      sync.WaitGroup
		created atomic.Int64
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			task, err := store.Enqueue(ctx, health.TaskRerunMigration, "high", "missing tables: workflows")
			assert.NoError(t, err)

			if task != nil {
				created.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(1), created.Load(), "exactly one enqueue must win")

	tasks, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, health.TaskPending, tasks[0].Status)
}

func TestTaskStore_executeUnapproved_fails(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	store := health.NewTaskStore(pool)

	task, err := store.Enqueue(ctx, health.TaskInvestigateLocks, "high", "2 locks held")
	require.NoError(t, err)

	err = store.MarkExecuted(ctx, task.ID)
	require.Error(t, err)

	got, getErr := store.Get(ctx, task.ID)
	require.NoError(t, getErr)
	assert.Equal(t, health.TaskPending, got.Status)
}

func TestTaskStore_unknownTask(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	store := health.NewTaskStore(pool)

	require.NoError(t, store.EnsureTable(ctx))

	_, err := store.Get(ctx, uuid.New())
	require.ErrorIs(t, err, health.ErrTaskNotFound)

	err = store.Approve(ctx, uuid.New())
	require.ErrorIs(t, err, health.ErrTaskNotFound)
}

func TestMonitor_unhealthyDatabase_queuesRecoveryTasks(t *testing.T) {
	t.Parallel()

	pool := SetupPostgres(t)
	ctx := context.Background()
	reg := schema.Default()
	store := health.NewTaskStore(pool)

	m := health.NewMonitor(schema.NewCatalog(pool), reg, store, testLogger())

	// Fresh database: no version marker, no enums, no tables.
	report, err := m.CheckHealth(ctx)
	require.NoError(t, err)
	assert.False(t, report.Healthy)
	assert.False(t, report.MigrationTablePresent)
	assert.False(t, report.EnumsValid)
	assert.False(t, report.TablesConsistent)

	queued, err := m.TriggerRecovery(ctx, report)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	types := []string{queued[0].Type, queued[1].Type}
	assert.Contains(t, types, health.TaskRerunMigration)
	assert.Contains(t, types, health.TaskResyncEnums)

	// A second pass queues nothing new while the tasks stay pending.
	again, err := m.TriggerRecovery(ctx, report)
	require.NoError(t, err)
	assert.Empty(t, again)
}
