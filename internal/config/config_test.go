package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/flightctl/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "flightctl.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen = ":8080"
database = "/tmp/flights.db"
backup_dir = "/tmp/flight-backups"
port = "COM5"
baud_rate = 115200
open_timeout = "2s"
quiet_period = "200ms"
subscriber_buffer = 16
log_level = "debug"
`)
	t.Setenv(config.EnvConfigFile, path)

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/tmp/flights.db", cfg.Database)
	assert.Equal(t, "/tmp/flight-backups", cfg.BackupDir)
	assert.Equal(t, "COM5", cfg.Port)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 2*time.Second, cfg.OpenTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.QuietPeriod)
	assert.Equal(t, 16, cfg.SubscriberBuffer)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv(config.EnvConfigFile, "")

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultListen, cfg.Listen)
	assert.Equal(t, config.DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, config.DefaultOpenTimeout, cfg.OpenTimeout)
	assert.Equal(t, config.DefaultQuietPeriod, cfg.QuietPeriod)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Empty(t, cfg.BackupDir)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Setenv(config.EnvConfigFile, filepath.Join(t.TempDir(), "missing.toml"))

	_, err := config.LoadArgs(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	t.Setenv(config.EnvConfigFile, writeConfig(t, `
This is not a valid TOML file
`))

	_, err := config.LoadArgs(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	t.Setenv(config.EnvConfigFile, writeConfig(t, `
log_level = "invalid"
`))

	_, err := config.LoadArgs(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid log level")
}

func TestFlagsOverrideFile(t *testing.T) {
	t.Setenv(config.EnvConfigFile, writeConfig(t, `
log_level = "error"
baud_rate = 4800
`))

	cfg, err := config.LoadArgs([]string{"--log-level", "debug", "--quiet-period", "75ms"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
	assert.Equal(t, 4800, cfg.BaudRate)
	assert.Equal(t, 75*time.Millisecond, cfg.QuietPeriod)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv(config.EnvConfigFile, writeConfig(t, `
port = "/dev/ttyACM0"
`))
	t.Setenv("FLIGHTCTL_PORT", "/dev/ttyUSB3")

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB3", cfg.Port)
}

func TestRejectsNonPositiveBaudRate(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")

	_, err := config.LoadArgs([]string{"--baud-rate", "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baud_rate must be positive")
}

func TestCommandLineOnlyFlags(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")

	cfg, err := config.LoadArgs(nil)
	require.NoError(t, err)
	assert.False(t, cfg.ListPorts)
	assert.Equal(t, config.DefaultPIDFile, cfg.PIDFile)

	pidFile := filepath.Join(t.TempDir(), "custom.pid")
	cfg, err = config.LoadArgs([]string{"--list-ports", "--pid-file", pidFile})
	require.NoError(t, err)
	assert.True(t, cfg.ListPorts)
	assert.Equal(t, pidFile, cfg.PIDFile)
}

func TestBackupDirFlag(t *testing.T) {
	t.Setenv(config.EnvConfigFile, "")

	dir := t.TempDir()
	cfg, err := config.LoadArgs([]string{"--backup-dir", dir})
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.BackupDir)
}
