package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "status",
	Short: "Show schema readiness status",
	Long: `Probe the live catalog against the required-table list and report
which tables are still missing.`,
	RunE: runStatus,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	statusCmd.Flags().String("format", "", "output format (text, json)")
	rootCmd.AddCommand(statusCmd)
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	Ready            bool     `json:"ready"`
	RequiredTables   []string `json:"required_tables"`
	MissingTables    []string `json:"missing_tables,omitempty"`
	MigrationVersion string   `json:"migration_version,omitempty"`
	PoolHealthy      bool     `json:"pool_healthy"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	e, err := newEngine(ctx, out)
	if err != nil {
		return err
	}
	defer e.close()

	missing, err := e.catalog.MissingTables(ctx, e.registry.RequiredTables)
	if err != nil {
		return err
	}

	version, _ := e.catalog.MigrationVersion(ctx)

	result := statusOutput{
		Ready:            len(missing) == 0,
		RequiredTables:   e.registry.RequiredTables,
		MissingTables:    missing,
		MigrationVersion: version,
		PoolHealthy:      e.manager.HealthCheck(ctx).Connected,
	}

	if outputFormat(cmd) == "json" {
		return printJSON(out, result)
	}

	if result.Ready {
		fmt.Fprintf(out, "Schema ready (migration version %s).\n", orNone(result.MigrationVersion))
	} else {
		fmt.Fprintf(out, "Schema NOT ready. Missing tables: %s\n", strings.Join(missing, ", "))
	}

	return nil
}

// outputFormat resolves --format with the config default.
func outputFormat(cmd *cobra.Command) string {
	if cmd.Flags().Changed("format") {
		f, _ := cmd.Flags().GetString("format")

		return f
	}

	return AppConfig.Format
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	data = append(data, '\n')
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("writing JSON output: %w", err)
	}

	return nil
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}

	return s
}
