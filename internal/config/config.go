// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for firmsync. Values are layered
// defaults -> config file -> environment -> CLI flags. All keys are flat
// top-level keys; the sub-structs below only group them in code.
package config

import "time"

// Config is the fully resolved configuration.
type Config struct {
	RemoteConfig
	StoreConfig
	SyncConfig
	LoggingConfig

	// Path is the config file the values were read from. It may not exist.
	Path string `toml:"-"`
}

// RemoteConfig locates and authenticates the remote store. Leaving either
// field empty runs the engine fully offline.
type RemoteConfig struct {
	RemoteURL      string `toml:"remote_url"`
	RemoteAPIKey   string `toml:"remote_api_key"`
	ProbeTable     string `toml:"probe_table"`
	RequestTimeout string `toml:"request_timeout"`
}

// StoreConfig controls the local SQLite database.
type StoreConfig struct {
	DatabasePath    string `toml:"database_path"`
	ReadConnections int    `toml:"read_connections"`
}

// SyncConfig controls the sync manager and scheduler.
type SyncConfig struct {
	SyncInterval int  `toml:"sync_interval"` // seconds
	OfflineMode  bool `toml:"offline_mode"`
	SweepWorkers int  `toml:"sweep_workers"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	LogFile          string `toml:"log_file"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath   string  // --config flag (empty = use default)
	DatabasePath *string // --db flag
	OfflineMode  *bool   // --offline flag
}

// RemoteConfigured reports whether both the remote URL and key are set.
func (c *Config) RemoteConfigured() bool {
	return c.RemoteURL != "" && c.RemoteAPIKey != ""
}

// Interval returns sync_interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.SyncInterval) * time.Second
}

// Timeout returns request_timeout as a duration, falling back to the
// default when the value does not parse. Validate rejects such values, so
// the fallback only matters for hand-built configs.
func (c *Config) Timeout() time.Duration {
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultRequestTimeout)
	}

	return d
}
