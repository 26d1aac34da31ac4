package config

// Default values for configuration options, the first layer of the
// override chain. They give a working offline setup with no config file.
const (
	defaultProbeTable       = "profiles"
	defaultRequestTimeout   = "30s"
	defaultDatabaseFile     = "firm_ai.db"
	defaultReadConnections  = 4
	defaultSyncInterval     = 300
	defaultSweepWorkers     = 4
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogMaxSizeMB     = 50
	defaultLogRetentionDays = 30
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		RemoteConfig: RemoteConfig{
			ProbeTable:     defaultProbeTable,
			RequestTimeout: defaultRequestTimeout,
		},
		StoreConfig: StoreConfig{
			DatabasePath:    DefaultDatabasePath(),
			ReadConnections: defaultReadConnections,
		},
		SyncConfig: SyncConfig{
			SyncInterval: defaultSyncInterval,
			SweepWorkers: defaultSweepWorkers,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}
