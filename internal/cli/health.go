package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "health",
	Short: "Run the aggregate health check",
	Long: `Check the migration version marker, enumerated type label sets,
required-table presence, and held advisory locks. Each issue is paired
with an actionable recommendation. With --queue-recovery, problems also
queue approval-gated recovery tasks. With --watch, the check repeats on
the configured health interval until interrupted.`,
	RunE: runHealth,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	healthCmd.Flags().String("format", "", "output format (text, json)")
	healthCmd.Flags().Bool("queue-recovery", false, "queue approval-gated recovery tasks for detected problems")
	healthCmd.Flags().Bool("watch", false, "re-check on the health interval until interrupted")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	monitor := e.monitor()

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		fmt.Fprintf(out, "Watching health every %s; recovery tasks queue automatically.\n",
			AppConfig.HealthInterval)
		monitor.Run(ctx, AppConfig.HealthInterval)

		return nil
	}

	report, err := monitor.CheckHealth(ctx)
	if err != nil {
		return err
	}

	if queue, _ := cmd.Flags().GetBool("queue-recovery"); queue {
		tasks, err := monitor.TriggerRecovery(ctx, report)
		if err != nil {
			return err
		}

		for _, task := range tasks {
			fmt.Fprintf(out, "Queued recovery task %s (%s) awaiting approval\n", task.ID, task.Type)
		}
	}

	if outputFormat(cmd) == "json" {
		return printJSON(out, report)
	}

	if report.Healthy {
		fmt.Fprintf(out, "Healthy. Migration version %s, %d advisory lock(s) held.\n",
			orNone(report.MigrationVersion), report.AdvisoryLocks)

		return nil
	}

	fmt.Fprintf(out, "UNHEALTHY: %d issue(s)\n", len(report.Issues))

	for i, issue := range report.Issues {
		fmt.Fprintf(out, "  - %s\n    recommendation: %s\n", issue, report.Recommendations[i])
	}

	return nil
}
