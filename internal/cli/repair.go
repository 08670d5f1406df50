package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repairCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "repair",
	Short: "Detect and repair column-type drift",
	Long: `Compare live column types against the expected registry in
dependency order. Drifted tables are backed up to uniquely timestamped
copies and dropped so the next migration pass recreates them correctly.
Use --dry-run to report drift without touching anything.`,
	RunE: runRepair,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	repairCmd.Flags().Bool("dry-run", false, "report drift without repairing")
	repairCmd.Flags().Bool("no-backup", false, "skip the pre-drop backup copy (destructive)")
	repairCmd.Flags().String("format", "", "output format (text, json)")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	noBackup, _ := cmd.Flags().GetBool("no-backup")

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	validator := e.drift(!noBackup)

	if dryRun {
		mismatches, err := validator.Validate(ctx)
		if err != nil {
			return err
		}

		if outputFormat(cmd) == "json" {
			return printJSON(out, mismatches)
		}

		if len(mismatches) == 0 {
			fmt.Fprintln(out, "No drift detected.")

			return nil
		}

		fmt.Fprintf(out, "Drift detected in %d column(s) (dry run, nothing changed):\n", len(mismatches))

		for _, m := range mismatches {
			fmt.Fprintf(out, "  - %s\n", m)
		}

		return nil
	}

	report, err := validator.ValidateAndRepair(ctx)
	if err != nil {
		return err
	}

	if outputFormat(cmd) == "json" {
		return printJSON(out, report)
	}

	fmt.Fprintf(out, "Repair complete: %d issue(s) found, %d table(s) repaired.\n",
		len(report.IssuesFound), len(report.RepairsMade))

	for _, rec := range report.RepairsMade {
		if rec.BackupTable != "" {
			fmt.Fprintf(out, "  - %s: %d row(s) preserved in %s\n",
				rec.Table, rec.RowsCopied, rec.BackupTable)
		} else {
			fmt.Fprintf(out, "  - %s: dropped (no rows to preserve)\n", rec.Table)
		}
	}

	return nil
}
