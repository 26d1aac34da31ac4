package main

import (
	"github.com/spf13/cobra"

	"github.com/firmai/firmsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Long: `Print the configuration after defaults, the config file, environment
variables, and flags have been applied. The API key is redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if cc.Flags.JSON {
				shown := *cc.Cfg
				if shown.RemoteAPIKey != "" {
					shown.RemoteAPIKey = "<redacted>"
				}

				return printJSON(cmd.OutOrStdout(), configJSON(&shown))
			}

			return config.RenderEffective(cc.Cfg, cmd.OutOrStdout())
		},
	})

	return cmd
}

// configJSON flattens the config into its file keys.
func configJSON(c *config.Config) map[string]any {
	return map[string]any{
		"config_path":        c.Path,
		"remote_url":         c.RemoteURL,
		"remote_api_key":     c.RemoteAPIKey,
		"probe_table":        c.ProbeTable,
		"request_timeout":    c.RequestTimeout,
		"database_path":      c.DatabasePath,
		"read_connections":   c.ReadConnections,
		"sync_interval":      c.SyncInterval,
		"offline_mode":       c.OfflineMode,
		"sweep_workers":      c.SweepWorkers,
		"log_level":          c.LogLevel,
		"log_format":         c.LogFormat,
		"log_file":           c.LogFile,
		"log_max_size_mb":    c.LogMaxSizeMB,
		"log_retention_days": c.LogRetentionDays,
	}
}
