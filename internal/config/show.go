package config

import (
	"fmt"
	"io"
)

const redacted = "<redacted>"

// RenderEffective writes the resolved configuration to w as TOML-like
// text, one group per sub-config. The API key is never printed.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %q)\n\n", cfg.Path)

	key := ""
	if cfg.RemoteAPIKey != "" {
		key = redacted
	}

	ew.printf("# remote\n")
	ew.printf("remote_url         = %q\n", cfg.RemoteURL)
	ew.printf("remote_api_key     = %q\n", key)
	ew.printf("probe_table        = %q\n", cfg.ProbeTable)
	ew.printf("request_timeout    = %q\n\n", cfg.RequestTimeout)

	ew.printf("# store\n")
	ew.printf("database_path      = %q\n", cfg.DatabasePath)
	ew.printf("read_connections   = %d\n\n", cfg.ReadConnections)

	ew.printf("# sync\n")
	ew.printf("sync_interval      = %d\n", cfg.SyncInterval)
	ew.printf("offline_mode       = %t\n", cfg.OfflineMode)
	ew.printf("sweep_workers      = %d\n\n", cfg.SweepWorkers)

	ew.printf("# logging\n")
	ew.printf("log_level          = %q\n", cfg.LogLevel)
	ew.printf("log_format         = %q\n", cfg.LogFormat)

	if cfg.LogFile != "" {
		ew.printf("log_file           = %q\n", cfg.LogFile)
	}

	ew.printf("log_max_size_mb    = %d\n", cfg.LogMaxSizeMB)
	ew.printf("log_retention_days = %d\n", cfg.LogRetentionDays)

	return ew.err
}

// errWriter wraps an io.Writer and keeps the first write error. Later
// writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
