package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aqasim81/schema-orchestrator/internal/audit"
	"github.com/aqasim81/schema-orchestrator/internal/config"
	"github.com/aqasim81/schema-orchestrator/internal/database"
	"github.com/aqasim81/schema-orchestrator/internal/drift"
	"github.com/aqasim81/schema-orchestrator/internal/enumtype"
	"github.com/aqasim81/schema-orchestrator/internal/health"
	"github.com/aqasim81/schema-orchestrator/internal/migrate"
	"github.com/aqasim81/schema-orchestrator/internal/schema"
)

// errDatabaseURLRequired is returned when no database URL is configured.
var errDatabaseURLRequired = errors.New(
	"database URL is required (set --database-url, SCHEMA_DATABASE_URL, or database_url in config)",
)

// engine is the process-wide composition of the subsystem: one connection
// manager, one validated registry, and the components built over them.
// Constructed per command invocation and torn down with close.
type engine struct {
	cfg      *config.Config
	manager  *database.Manager
	catalog  *schema.Catalog
	registry *schema.Registry
	auditLog *audit.Log
}

// newEngine validates the registry, connects with retries, and wires the
// shared components. The caller must defer e.close().
func newEngine(ctx context.Context, out io.Writer) (*engine, error) {
	cfg := AppConfig

	if cfg.DatabaseURL == "" {
		return nil, errDatabaseURLRequired
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(out, "Connecting to %s\n", config.RedactURL(cfg.DatabaseURL))

	manager := database.NewManager(
		database.WithMaxRetries(cfg.ConnectRetries),
		database.WithBaseDelay(cfg.ConnectBaseDelay),
		database.WithLogger(AppLogger),
	)

	if err := manager.Connect(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	return &engine{
		cfg:      cfg,
		manager:  manager,
		catalog:  schema.NewCatalog(manager.Pool()),
		registry: registry,
		auditLog: audit.NewLog(manager.Pool()),
	}, nil
}

func (e *engine) close() {
	e.manager.Close()
}

// buildRegistry applies the configured required-table override to the
// compiled-in registry and validates the result once.
func buildRegistry(cfg *config.Config) (*schema.Registry, error) {
	registry := schema.Default()
	if len(cfg.RequiredTables) > 0 {
		registry.RequiredTables = cfg.RequiredTables
	}

	if err := registry.Validate(); err != nil {
		return nil, err
	}

	return registry, nil
}

// enums builds the enum type manager over the engine's shared components.
func (e *engine) enums() *enumtype.Manager {
	return enumtype.New(e.manager.Pool(), e.catalog, e.auditLog,
		enumtype.WithLockTimeout(e.cfg.LockTimeout),
		enumtype.WithLogger(AppLogger),
	)
}

// drift builds the drift validator.
func (e *engine) drift(backup bool) *drift.Validator {
	return drift.New(e.manager.Pool(), e.catalog, e.registry, e.auditLog,
		drift.WithBackup(backup),
		drift.WithLogger(AppLogger),
	)
}

// runner builds the migration tool runner.
func (e *engine) runner() *migrate.Runner {
	return migrate.New(e.cfg.MigrationCommand, e.cfg.MigrationsDir,
		e.registry.RequiredTables, e.catalog,
		migrate.WithTimeout(e.cfg.MigrationTimeout),
		migrate.WithMaxRetries(e.cfg.MigrationRetries),
		migrate.WithRetryDelay(e.cfg.RetryDelay),
		migrate.WithLogger(AppLogger),
	)
}

// monitor builds the health monitor with its recovery task store.
func (e *engine) monitor() *health.Monitor {
	return health.NewMonitor(e.catalog, e.registry,
		health.NewTaskStore(e.manager.Pool()), AppLogger)
}
