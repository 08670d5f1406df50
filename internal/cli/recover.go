package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aqasim81/schema-orchestrator/internal/health"
)

var recoverCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "recover",
	Short: "Inspect and execute approval-gated recovery tasks",
	Long: `The health monitor queues recovery tasks instead of acting on
problems autonomously. List them, approve one, then execute it.`,
}

var recoverListCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "list",
	Short: "List recovery tasks",
	RunE:  runRecoverList,
}

var recoverApproveCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "approve <task-id>",
	Short: "Approve a pending recovery task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoverApprove,
}

var recoverExecuteCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "execute <task-id>",
	Short: "Execute an approved recovery task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecoverExecute,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	recoverListCmd.Flags().String("format", "", "output format (text, json)")
	recoverCmd.AddCommand(recoverListCmd)
	recoverCmd.AddCommand(recoverApproveCmd)
	recoverCmd.AddCommand(recoverExecuteCmd)
	rootCmd.AddCommand(recoverCmd)
}

func runRecoverList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	tasks, err := health.NewTaskStore(e.manager.Pool()).List(ctx)
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		return printJSON(out, tasks)
	}

	if len(tasks) == 0 {
		fmt.Fprintln(out, "No recovery tasks.")

		return nil
	}

	for _, t := range tasks {
		fmt.Fprintf(out, "  %s  %-18s %-9s %s\n", t.ID, t.Type, t.Status, t.Context)
	}

	return nil
}

func runRecoverApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing task id %q: %w", args[0], err)
	}

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	if err := health.NewTaskStore(e.manager.Pool()).Approve(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(out, "Task %s approved.\n", id)

	return nil
}

func runRecoverExecute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing task id %q: %w", args[0], err)
	}

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	store := health.NewTaskStore(e.manager.Pool())

	task, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	if task.Status != health.TaskApproved {
		return fmt.Errorf("task %s is %s: %w", id, task.Status, health.ErrTaskNotApproved)
	}

	if err := executeTask(ctx, e, task); err != nil {
		return err
	}

	if err := store.MarkExecuted(ctx, id); err != nil {
		return err
	}

	fmt.Fprintf(out, "Task %s (%s) executed.\n", task.ID, task.Type)

	return nil
}

// executeTask dispatches an approved task to the component that remediates it.
func executeTask(ctx context.Context, e *engine, task *health.Task) error {
	switch task.Type {
	case health.TaskRerunMigration:
		return e.runner().Run(ctx)
	case health.TaskRepairDrift:
		_, err := e.drift(true).ValidateAndRepair(ctx)

		return err
	case health.TaskResyncEnums:
		_, err := e.enums().SyncAll(ctx, e.registry)

		return err
	case health.TaskInvestigateLocks:
		// Nothing safe to automate: held locks belong to live sessions.
		AppLogger.Info("lock investigation is manual; see pg_locks and pg_stat_activity")

		return nil
	default:
		return fmt.Errorf("%w: unknown task type %s", health.ErrTaskNotFound, task.Type)
	}
}
