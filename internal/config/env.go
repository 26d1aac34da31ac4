package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Environment variable names for overrides. The remote variables keep the
// names the web frontend already exports, with the public variants as
// fallbacks.
const (
	EnvConfig          = "FIRMSYNC_CONFIG"
	EnvRemoteURL       = "SUPABASE_URL"
	EnvRemoteURLPublic = "NEXT_PUBLIC_SUPABASE_URL"
	EnvRemoteKey       = "SUPABASE_KEY"
	EnvRemoteKeyPublic = "NEXT_PUBLIC_SUPABASE_ANON_KEY"
	EnvDatabasePath    = "DATABASE_PATH"
	EnvSyncInterval    = "SYNC_INTERVAL"
	EnvOfflineMode     = "OFFLINE_MODE"
)

// EnvOverrides holds raw values read from the environment. Empty means
// unset.
type EnvOverrides struct {
	ConfigPath   string
	RemoteURL    string
	RemoteAPIKey string
	DatabasePath string
	SyncInterval string
	OfflineMode  string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the values.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		RemoteURL:    firstEnv(EnvRemoteURL, EnvRemoteURLPublic),
		RemoteAPIKey: firstEnv(EnvRemoteKey, EnvRemoteKeyPublic),
		DatabasePath: os.Getenv(EnvDatabasePath),
		SyncInterval: os.Getenv(EnvSyncInterval),
		OfflineMode:  os.Getenv(EnvOfflineMode),
	}
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}

	return ""
}

// apply layers env on top of cfg. Malformed numeric or boolean values are
// errors rather than silently ignored.
func (env EnvOverrides) apply(cfg *Config) error {
	var errs []error

	if env.RemoteURL != "" {
		cfg.RemoteURL = env.RemoteURL
	}

	if env.RemoteAPIKey != "" {
		cfg.RemoteAPIKey = env.RemoteAPIKey
	}

	if env.DatabasePath != "" {
		cfg.DatabasePath = env.DatabasePath
	}

	if env.SyncInterval != "" {
		n, err := strconv.Atoi(env.SyncInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid integer %q", EnvSyncInterval, env.SyncInterval))
		} else {
			cfg.SyncInterval = n
		}
	}

	if env.OfflineMode != "" {
		b, err := strconv.ParseBool(env.OfflineMode)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid boolean %q", EnvOfflineMode, env.OfflineMode))
		} else {
			cfg.OfflineMode = b
		}
	}

	return errors.Join(errs...)
}
