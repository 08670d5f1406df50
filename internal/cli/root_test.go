package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqasim81/schema-orchestrator/internal/config"
)

func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetErr(&bytes.Buffer{})
	cmd.Flags().String("config", "schema-orchestrator.yml", "")
	cmd.Flags().String("database-url", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("format", "", "")

	return cmd
}

func TestLoadConfig_missingFile_usesDefaults(t *testing.T) { // not parallel: mutates global AppConfig
	old, oldLogger := AppConfig, AppLogger
	t.Cleanup(func() { AppConfig, AppLogger = old, oldLogger })

	cmd := newFlagCommand()

	require.NoError(t, loadConfig(cmd))
	require.NotNil(t, AppConfig)
	require.NotNil(t, AppLogger)
	assert.Equal(t, config.DefaultWaitTimeout, AppConfig.WaitTimeout)
	assert.Equal(t, []string{"alembic", "upgrade", "head"}, AppConfig.MigrationCommand)
}

func TestLoadConfig_explicitMissingFile_fails(t *testing.T) { // not parallel: mutates global AppConfig
	old, oldLogger := AppConfig, AppLogger
	t.Cleanup(func() { AppConfig, AppLogger = old, oldLogger })

	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("config", filepath.Join(t.TempDir(), "nope.yml")))

	err := loadConfig(cmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
}

func TestLoadConfig_validFile_loadsValues(t *testing.T) { // not parallel: mutates global AppConfig
	old, oldLogger := AppConfig, AppLogger
	t.Cleanup(func() { AppConfig, AppLogger = old, oldLogger })

	cfgPath := filepath.Join(t.TempDir(), "test-config.yml")
	yamlContent := "database_url: postgres://from:yaml@db:5432/app\nwait_timeout: 90s\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yamlContent), 0o600))

	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("config", cfgPath))

	require.NoError(t, loadConfig(cmd))
	assert.Equal(t, "postgres://from:yaml@db:5432/app", AppConfig.DatabaseURL)
	assert.Equal(t, 90*time.Second, AppConfig.WaitTimeout)
}

func TestLoadConfig_databaseURLFlag_overridesFile(t *testing.T) { // not parallel: mutates global AppConfig
	old, oldLogger := AppConfig, AppLogger
	t.Cleanup(func() { AppConfig, AppLogger = old, oldLogger })

	cfgPath := filepath.Join(t.TempDir(), "test-config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database_url: postgres://from:yaml@db:5432/app\n"), 0o600))

	cmd := newFlagCommand()
	require.NoError(t, cmd.Flags().Set("config", cfgPath))
	require.NoError(t, cmd.Flags().Set("database-url", "postgres://from:flag@db:5432/app"))

	require.NoError(t, loadConfig(cmd))
	assert.Equal(t, "postgres://from:flag@db:5432/app", AppConfig.DatabaseURL)
}

func TestOutputFormat_flagOverridesConfig(t *testing.T) { // not parallel: mutates global AppConfig
	old := AppConfig
	t.Cleanup(func() { AppConfig = old })

	AppConfig = config.New()
	AppConfig.Format = "text"

	cmd := newFlagCommand()
	assert.Equal(t, "text", outputFormat(cmd))

	require.NoError(t, cmd.Flags().Set("format", "json"))
	assert.Equal(t, "json", outputFormat(cmd))
}

func TestPrintJSON_indentedWithTrailingNewline(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, statusOutput{Ready: true, RequiredTables: []string{"workflows"}}))

	out := buf.String()
	assert.Contains(t, out, "\"ready\": true")
	assert.Contains(t, out, "\"workflows\"")
	assert.True(t, len(out) > 0 && out[len(out)-1] == '\n')
}

func TestOrNone(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "<none>", orNone(""))
	assert.Equal(t, "abc123", orNone("abc123"))
}
