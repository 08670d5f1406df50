package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for configuration fields.
const (
	DefaultMigrationsDir    = "./migrations"
	DefaultConnectRetries   = 5
	DefaultConnectBaseDelay = time.Second
	DefaultMigrationTimeout = 5 * time.Minute
	DefaultMigrationRetries = 3
	DefaultRetryDelay       = 3 * time.Second
	DefaultLockTimeout      = 10 * time.Second
	DefaultWaitTimeout      = 5 * time.Minute
	DefaultPollInterval     = 2 * time.Second
	DefaultHealthInterval   = time.Minute
	DefaultFormat           = "text"
)

// DefaultMigrationCommand invokes the external migration tool. The tool
// is an independently versioned artifact; only its command line and
// working directory are configurable here.
var DefaultMigrationCommand = []string{"alembic", "upgrade", "head"} //nolint:gochecknoglobals // immutable default

// Config holds the engine configuration loaded from file, environment,
// and flags, in ascending precedence.
type Config struct {
	DatabaseURL      string
	MigrationCommand []string
	MigrationsDir    string
	RequiredTables   []string
	ConnectRetries   int
	ConnectBaseDelay time.Duration
	MigrationTimeout time.Duration
	MigrationRetries int
	RetryDelay       time.Duration
	LockTimeout      time.Duration
	WaitTimeout      time.Duration
	PollInterval     time.Duration
	HealthInterval   time.Duration
	StartupDelay     time.Duration
	SkipWait         bool
	Format           string
}

// yamlConfig is the raw YAML file representation with string durations.
type yamlConfig struct {
	DatabaseURL      string   `yaml:"database_url"`
	MigrationCommand []string `yaml:"migration_command"`
	MigrationsDir    string   `yaml:"migrations_dir"`
	RequiredTables   []string `yaml:"required_tables"`
	ConnectRetries   int      `yaml:"connect_retries"`
	ConnectBaseDelay string   `yaml:"connect_base_delay"`
	MigrationTimeout string   `yaml:"migration_timeout"`
	MigrationRetries int      `yaml:"migration_retries"`
	RetryDelay       string   `yaml:"retry_delay"`
	LockTimeout      string   `yaml:"lock_timeout"`
	WaitTimeout      string   `yaml:"wait_timeout"`
	PollInterval     string   `yaml:"poll_interval"`
	HealthInterval   string   `yaml:"health_interval"`
	StartupDelay     string   `yaml:"startup_delay"`
	SkipWait         bool     `yaml:"skip_wait"`
	Format           string   `yaml:"format"`
}

// New returns a Config populated with default values.
func New() *Config {
	return &Config{
		MigrationCommand: DefaultMigrationCommand,
		MigrationsDir:    DefaultMigrationsDir,
		ConnectRetries:   DefaultConnectRetries,
		ConnectBaseDelay: DefaultConnectBaseDelay,
		MigrationTimeout: DefaultMigrationTimeout,
		MigrationRetries: DefaultMigrationRetries,
		RetryDelay:       DefaultRetryDelay,
		LockTimeout:      DefaultLockTimeout,
		WaitTimeout:      DefaultWaitTimeout,
		PollInterval:     DefaultPollInterval,
		HealthInterval:   DefaultHealthInterval,
		Format:           DefaultFormat,
	}
}

// Load reads a YAML configuration file and returns a Config.
// If allowMissing is true and the file does not exist, defaults are returned.
func Load(path string, allowMissing bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return New(), nil
		}

		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return fromYAML(&raw)
}

// fromYAML converts the raw YAML representation to a Config with defaults applied.
func fromYAML(raw *yamlConfig) (*Config, error) {
	cfg := New()

	if raw.DatabaseURL != "" {
		cfg.DatabaseURL = raw.DatabaseURL
	}

	if len(raw.MigrationCommand) > 0 {
		cfg.MigrationCommand = raw.MigrationCommand
	}

	if raw.MigrationsDir != "" {
		cfg.MigrationsDir = raw.MigrationsDir
	}

	if len(raw.RequiredTables) > 0 {
		cfg.RequiredTables = raw.RequiredTables
	}

	if raw.ConnectRetries != 0 {
		cfg.ConnectRetries = raw.ConnectRetries
	}

	if raw.MigrationRetries != 0 {
		cfg.MigrationRetries = raw.MigrationRetries
	}

	if raw.Format != "" {
		cfg.Format = raw.Format
	}

	cfg.SkipWait = raw.SkipWait

	durations := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{raw.ConnectBaseDelay, "connect_base_delay", &cfg.ConnectBaseDelay},
		{raw.MigrationTimeout, "migration_timeout", &cfg.MigrationTimeout},
		{raw.RetryDelay, "retry_delay", &cfg.RetryDelay},
		{raw.LockTimeout, "lock_timeout", &cfg.LockTimeout},
		{raw.WaitTimeout, "wait_timeout", &cfg.WaitTimeout},
		{raw.PollInterval, "poll_interval", &cfg.PollInterval},
		{raw.HealthInterval, "health_interval", &cfg.HealthInterval},
		{raw.StartupDelay, "startup_delay", &cfg.StartupDelay},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}

		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}

		*d.dst = parsed
	}

	return cfg, nil
}

// MergeEnv overrides config fields from SCHEMA_* environment variables.
// SCHEMA_SKIP_WAIT is the local-development escape hatch that bypasses
// the readiness wait entirely.
func MergeEnv(cfg *Config) {
	if v := os.Getenv("SCHEMA_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := os.Getenv("SCHEMA_MIGRATION_COMMAND"); v != "" {
		cfg.MigrationCommand = strings.Fields(v)
	}

	if v := os.Getenv("SCHEMA_MIGRATIONS_DIR"); v != "" {
		cfg.MigrationsDir = v
	}

	if v := os.Getenv("SCHEMA_REQUIRED_TABLES"); v != "" {
		var tables []string

		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}

		cfg.RequiredTables = tables
	}

	if v := os.Getenv("SCHEMA_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WaitTimeout = d
		}
	}

	if v := os.Getenv("SCHEMA_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PollInterval = d
		}
	}

	if v := os.Getenv("SCHEMA_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LockTimeout = d
		}
	}

	if v := os.Getenv("SCHEMA_STARTUP_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StartupDelay = d
		}
	}

	if v := os.Getenv("SCHEMA_SKIP_WAIT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SkipWait = b
		}
	}
}
