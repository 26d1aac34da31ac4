package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/firmai/firmsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	DBPath     string
	Offline    bool
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is what PersistentPreRunE hands to every subcommand through
// the command context.
type CLIContext struct {
	Flags  CLIFlags
	Env    config.EnvOverrides
	CLI    config.CLIOverrides
	Cfg    *config.Config
	Logger *slog.Logger

	logCloser io.Closer
}

type cliContextKey struct{}

func withCLIContext(ctx context.Context, cc *CLIContext) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cc)
}

// mustCLIContext returns the CLIContext stored by the root pre-run. A
// missing context is a programming error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext missing from command context")
	}

	return cc
}

// Close flushes and closes the rotating log file, if any.
func (cc *CLIContext) Close() error {
	if cc.logCloser == nil {
		return nil
	}

	return cc.logCloser.Close()
}

func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:     "firmsync",
		Short:   "Offline-first storage and sync engine",
		Long:    "Keeps a local SQLite store authoritative and mirrors it to the cloud database when online.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := loadCLIContext(cmd, flags, os.Stderr)
			if err != nil {
				return err
			}

			cmd.SetContext(withCLIContext(cmd.Context(), cc))

			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				return cc.Close()
			}

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.DBPath, "db", "", "local database path (overrides database_path)")
	cmd.PersistentFlags().BoolVar(&flags.Offline, "offline", false, "force offline mode for this invocation")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newFlashcardsCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadCLIContext resolves the effective configuration from the override
// chain and builds the logger.
func loadCLIContext(cmd *cobra.Command, flags CLIFlags, stderr io.Writer) (*CLIContext, error) {
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	// Only pass flags the user explicitly set.
	if cmd.Flags().Changed("db") {
		cli.DatabasePath = &flags.DBPath
	}

	if cmd.Flags().Changed("offline") {
		cli.OfflineMode = &flags.Offline
	}

	env := config.ReadEnvOverrides()

	cfg, err := config.Resolve(env, cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closer := buildLogger(cfg, flags, stderr)

	return &CLIContext{
		Flags:     flags,
		Env:       env,
		CLI:       cli,
		Cfg:       cfg,
		Logger:    logger,
		logCloser: closer,
	}, nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. The config level is the baseline; --verbose and --quiet win.
// With log_file set, records go to a rotating file instead of stderr.
func buildLogger(cfg *config.Config, flags CLIFlags, stderr io.Writer) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	var (
		out    = stderr
		closer io.Closer
		format = "auto"
	)

	if cfg != nil {
		format = cfg.LogFormat

		if cfg.LogFile != "" {
			lj := &lumberjack.Logger{
				Filename: cfg.LogFile,
				MaxSize:  cfg.LogMaxSizeMB,
				MaxAge:   cfg.LogRetentionDays,
				Compress: true,
			}
			out, closer = lj, lj
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if useJSONLogs(format, out) {
		return slog.New(slog.NewJSONHandler(out, opts)), closer
	}

	return slog.New(slog.NewTextHandler(out, opts)), closer
}

// useJSONLogs resolves log_format. "auto" means text on a terminal and
// JSON everywhere else, including log files.
func useJSONLogs(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "text":
		return false
	}

	f, ok := out.(*os.File)
	if !ok {
		return true
	}

	return !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
}

// exitOnError prints a user-facing error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", userMessage(err))
	os.Exit(1)
}
