package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/schema-orchestrator/internal/config"
	"github.com/aqasim81/schema-orchestrator/internal/database"
	"github.com/aqasim81/schema-orchestrator/internal/migrate"
	"github.com/aqasim81/schema-orchestrator/internal/preflight"
	"github.com/aqasim81/schema-orchestrator/internal/readiness"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// errSchemaNotReady is returned when bootstrap ends in the failed state.
// The non-zero process exit lets a supervisor restart or alert instead of
// serving traffic against an incomplete schema.
var errSchemaNotReady = errors.New("bootstrap failed: schema is not ready")

var bootstrapCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "bootstrap",
	Short: "Block until the schema is migrated and verified ready",
	Long: `Connect to the database with retries, invoke the external migration
tool, and poll the catalog until every required table exists. Exits 0 only
when the schema has been verified ready.`,
	RunE: runBootstrap,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	bootstrapCmd.Flags().Duration("timeout", 0, "override overall wait timeout (e.g., 2m)")
	bootstrapCmd.Flags().Bool("skip-wait", false, "skip the readiness wait entirely (local development only)")
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, _ []string) error {
	cfg := AppConfig
	out := cmd.OutOrStdout()

	if cfg.DatabaseURL == "" {
		return errDatabaseURLRequired
	}

	timeout := cfg.WaitTimeout
	if cmd.Flags().Changed("timeout") {
		timeout, _ = cmd.Flags().GetDuration("timeout")
	}

	skipWait := cfg.SkipWait
	if cmd.Flags().Changed("skip-wait") {
		skipWait, _ = cmd.Flags().GetBool("skip-wait")
	}

	if cfg.StartupDelay > 0 {
		AppLogger.Info("startup delay before bootstrap", "delay", cfg.StartupDelay)
		time.Sleep(cfg.StartupDelay)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	// Preflight reads only the migration files, never the database, so it
	// runs before anything else and is purely advisory.
	if findings, err := preflight.New(AppLogger).AnalyzeDir(cfg.MigrationsDir); err != nil {
		AppLogger.Warn("preflight analysis failed", "error", err)
	} else if len(findings) > 0 {
		fmt.Fprintf(out, "Preflight: %d risky statement(s) in pending migrations (see log)\n", len(findings))
	}

	if skipWait {
		AppLogger.Warn("readiness wait skipped; schema may be incomplete")
		fmt.Fprintln(out, "Skipping readiness wait (SCHEMA_SKIP_WAIT).")

		return nil
	}

	fmt.Fprintf(out, "Bootstrapping against %s\n", config.RedactURL(cfg.DatabaseURL))

	prober := buildProber(cfg, registry, timeout)

	if !prober.EnsureReady(cmd.Context()) {
		return fmt.Errorf("%w (final state: %s)", errSchemaNotReady, prober.State())
	}

	fmt.Fprintln(out, "Schema ready.")

	return nil
}

// buildProber wires the state machine's connect, status, and migrate steps
// over a manager that is connected lazily in the connecting state.
func buildProber(cfg *config.Config, registry *schema.Registry, timeout time.Duration) *readiness.Prober {
	manager := database.NewManager(
		database.WithMaxRetries(cfg.ConnectRetries),
		database.WithBaseDelay(cfg.ConnectBaseDelay),
		database.WithLogger(AppLogger),
	)

	connect := func(ctx context.Context) error {
		return manager.Connect(ctx, cfg.DatabaseURL)
	}

	status := func(ctx context.Context) ([]string, error) {
		return schema.NewCatalog(manager.Pool()).MissingTables(ctx, registry.RequiredTables)
	}

	migrateFn := func(ctx context.Context) error {
		runner := migrate.New(cfg.MigrationCommand, cfg.MigrationsDir,
			registry.RequiredTables, schema.NewCatalog(manager.Pool()),
			migrate.WithTimeout(cfg.MigrationTimeout),
			migrate.WithMaxRetries(cfg.MigrationRetries),
			migrate.WithRetryDelay(cfg.RetryDelay),
			migrate.WithLogger(AppLogger),
		)

		return runner.Run(ctx)
	}

	return readiness.New(connect, status, migrateFn,
		readiness.WithTimeout(timeout),
		readiness.WithPollInterval(cfg.PollInterval),
		readiness.WithLogger(AppLogger),
	)
}
