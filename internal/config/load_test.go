package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
remote_url = "https://abc.supabase.co"
remote_api_key = "anon-key"
probe_table = "cases"
request_timeout = "10s"

database_path = "/var/lib/firmsync/test.db"
read_connections = 2

sync_interval = 60
offline_mode = true
sweep_workers = 8

log_level = "debug"
log_format = "json"
log_file = "/tmp/firmsync.log"
log_max_size_mb = 10
log_retention_days = 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://abc.supabase.co", cfg.RemoteURL)
	assert.Equal(t, "anon-key", cfg.RemoteAPIKey)
	assert.Equal(t, "cases", cfg.ProbeTable)
	assert.Equal(t, 10*time.Second, cfg.Timeout())
	assert.Equal(t, "/var/lib/firmsync/test.db", cfg.DatabasePath)
	assert.Equal(t, 2, cfg.ReadConnections)
	assert.Equal(t, time.Minute, cfg.Interval())
	assert.True(t, cfg.OfflineMode)
	assert.Equal(t, 8, cfg.SweepWorkers)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/tmp/firmsync.log", cfg.LogFile)
	assert.Equal(t, 10, cfg.LogMaxSizeMB)
	assert.Equal(t, 7, cfg.LogRetentionDays)
	assert.Equal(t, path, cfg.Path)
	assert.True(t, cfg.RemoteConfigured())
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `sync_interval = 120`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.SyncInterval)
	assert.Equal(t, defaultProbeTable, cfg.ProbeTable)
	assert.Equal(t, defaultReadConnections, cfg.ReadConnections)
	assert.Equal(t, defaultSweepWorkers, cfg.SweepWorkers)
	assert.False(t, cfg.OfflineMode)
	assert.False(t, cfg.RemoteConfigured())
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `sync_interval = `)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_WrongType(t *testing.T) {
	path := writeTestConfig(t, `sync_interval = "five minutes"`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_ValidationErrorsAreJoined(t *testing.T) {
	path := writeTestConfig(t, `
sync_interval = 1
log_level = "verbose"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_interval")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	cfg, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, defaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, path, cfg.Path)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, Validate(cfg))
	assert.Equal(t, 300*time.Second, cfg.Interval())
	assert.Equal(t, 30*time.Second, cfg.Timeout())
	assert.Equal(t, "profiles", cfg.ProbeTable)
	assert.Equal(t, 4, cfg.ReadConnections)
	assert.Equal(t, "firm_ai.db", filepath.Base(cfg.DatabasePath))
	assert.False(t, cfg.OfflineMode)
}

func TestConfigPath_Precedence(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), ConfigPath(EnvOverrides{}, CLIOverrides{}))
	assert.Equal(t, "/env.toml", ConfigPath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, "/cli.toml", ConfigPath(
		EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
}

func TestResolve_LayerOrder(t *testing.T) {
	path := writeTestConfig(t, `
remote_url = "https://file.example.com"
remote_api_key = "file-key"
database_path = "/file.db"
sync_interval = 600
offline_mode = false
`)

	env := EnvOverrides{
		RemoteURL:    "https://env.example.com",
		DatabasePath: "/env.db",
		SyncInterval: "90",
	}

	offline := true
	cliDB := "/cli.db"

	cfg, err := Resolve(env, CLIOverrides{ConfigPath: path, DatabasePath: &cliDB, OfflineMode: &offline})
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.RemoteURL, "env beats file")
	assert.Equal(t, "file-key", cfg.RemoteAPIKey, "unset env keeps file value")
	assert.Equal(t, "/cli.db", cfg.DatabasePath, "cli beats env")
	assert.Equal(t, 90, cfg.SyncInterval)
	assert.True(t, cfg.OfflineMode)
}

func TestResolve_NoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := Resolve(EnvOverrides{OfflineMode: "true"}, CLIOverrides{ConfigPath: path})
	require.NoError(t, err)
	assert.True(t, cfg.OfflineMode)
	assert.False(t, cfg.RemoteConfigured())
}

func TestResolve_BadEnvValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	_, err := Resolve(EnvOverrides{SyncInterval: "soon", OfflineMode: "maybe"}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvSyncInterval)
	assert.Contains(t, err.Error(), EnvOfflineMode)
}

func TestResolve_EnvValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	_, err := Resolve(EnvOverrides{SyncInterval: "0"}, CLIOverrides{ConfigPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync_interval")
}

func TestResolve_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "absent.toml")
	db := "~/firm/test.db"

	cfg, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, DatabasePath: &db})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "firm", "test.db"), cfg.DatabasePath)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvRemoteURL, "")
	t.Setenv(EnvRemoteURLPublic, "https://public.example.com")
	t.Setenv(EnvRemoteKey, "service-key")
	t.Setenv(EnvRemoteKeyPublic, "anon-key")
	t.Setenv(EnvDatabasePath, "/data/firm.db")
	t.Setenv(EnvSyncInterval, "42")
	t.Setenv(EnvOfflineMode, "1")

	env := ReadEnvOverrides()
	assert.Equal(t, "/custom/config.toml", env.ConfigPath)
	assert.Equal(t, "https://public.example.com", env.RemoteURL, "public variant is the fallback")
	assert.Equal(t, "service-key", env.RemoteAPIKey, "primary variant wins")
	assert.Equal(t, "/data/firm.db", env.DatabasePath)
	assert.Equal(t, "42", env.SyncInterval)
	assert.Equal(t, "1", env.OfflineMode)
}
