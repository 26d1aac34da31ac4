package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad url scheme", func(c *Config) { c.RemoteURL = "ftp://x" }, "remote_url"},
		{"relative url", func(c *Config) { c.RemoteURL = "abc.supabase.co" }, "remote_url"},
		{"empty probe table", func(c *Config) { c.ProbeTable = "" }, "probe_table"},
		{"bad timeout", func(c *Config) { c.RequestTimeout = "soon" }, "request_timeout"},
		{"short timeout", func(c *Config) { c.RequestTimeout = "10ms" }, "request_timeout"},
		{"empty db path", func(c *Config) { c.DatabasePath = "" }, "database_path"},
		{"zero readers", func(c *Config) { c.ReadConnections = 0 }, "read_connections"},
		{"too many readers", func(c *Config) { c.ReadConnections = 99 }, "read_connections"},
		{"short interval", func(c *Config) { c.SyncInterval = 5 }, "sync_interval"},
		{"zero workers", func(c *Config) { c.SweepWorkers = 0 }, "sweep_workers"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"zero log size", func(c *Config) { c.LogMaxSizeMB = 0 }, "log_max_size_mb"},
		{"zero retention", func(c *Config) { c.LogRetentionDays = 0 }, "log_retention_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AcceptsHTTPURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteURL = "http://127.0.0.1:54321"

	assert.NoError(t, Validate(cfg))
}

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, `sync_intervall = 60`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.Contains(t, err.Error(), `"sync_interval"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `completely_different = true`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_different"`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownTableReportedOnce(t *testing.T) {
	path := writeTestConfig(t, "[sync]\ninterval = 5\nworkers = 2\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), `unknown config key "sync"`))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 3, levenshtein("abc", ""))
	assert.Equal(t, 1, levenshtein("log_levl", "log_level"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "offline_mode", closestMatch("ofline_mode", knownKeysList))
	assert.Empty(t, closestMatch("zzzzzzzzzzzz", knownKeysList))
}

func TestRenderEffective_RedactsKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteURL = "https://abc.supabase.co"
	cfg.RemoteAPIKey = "super-secret"
	cfg.Path = "/etc/firmsync/config.toml"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, &buf))

	out := buf.String()
	assert.NotContains(t, out, "super-secret")
	assert.Contains(t, out, `remote_api_key     = "<redacted>"`)
	assert.Contains(t, out, `remote_url         = "https://abc.supabase.co"`)
	assert.Contains(t, out, "sync_interval      = 300")
	assert.NotContains(t, out, "log_file")
}

func TestRenderEffective_EmptyKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderEffective(DefaultConfig(), &buf))
	assert.Contains(t, buf.String(), `remote_api_key     = ""`)
}
