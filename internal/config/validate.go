package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minReadConnections = 1
	maxReadConnections = 16
	minSweepWorkers    = 1
	maxSweepWorkers    = 32
	minSyncInterval    = 10 // seconds
	minRequestTimeout  = time.Second
	minLogRetention    = 1
	minLogMaxSizeMB    = 1
)

// Validate checks all configuration values and returns every error found,
// joined, so users can fix everything in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.RemoteConfig)...)
	errs = append(errs, validateStore(&cfg.StoreConfig)...)
	errs = append(errs, validateSync(&cfg.SyncConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.RemoteURL != "" {
		u, err := url.Parse(r.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote_url: must be an absolute http(s) URL, got %q", r.RemoteURL))
		}
	}

	if r.ProbeTable == "" {
		errs = append(errs, errors.New("probe_table: must not be empty"))
	}

	d, err := time.ParseDuration(r.RequestTimeout)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("request_timeout: invalid duration %q: %w", r.RequestTimeout, err))
	case d < minRequestTimeout:
		errs = append(errs, fmt.Errorf("request_timeout: must be >= %s, got %s", minRequestTimeout, d))
	}

	return errs
}

func validateStore(s *StoreConfig) []error {
	var errs []error

	if s.DatabasePath == "" {
		errs = append(errs, errors.New("database_path: must not be empty"))
	}

	if s.ReadConnections < minReadConnections || s.ReadConnections > maxReadConnections {
		errs = append(errs, fmt.Errorf("read_connections: must be between %d and %d, got %d",
			minReadConnections, maxReadConnections, s.ReadConnections))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.SyncInterval < minSyncInterval {
		errs = append(errs, fmt.Errorf("sync_interval: must be >= %d seconds, got %d",
			minSyncInterval, s.SyncInterval))
	}

	if s.SweepWorkers < minSweepWorkers || s.SweepWorkers > maxSweepWorkers {
		errs = append(errs, fmt.Errorf("sweep_workers: must be between %d and %d, got %d",
			minSweepWorkers, maxSweepWorkers, s.SweepWorkers))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogMaxSizeMB < minLogMaxSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d",
			minLogMaxSizeMB, l.LogMaxSizeMB))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}
