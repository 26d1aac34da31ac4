package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/firmai/firmsync/internal/config"
	"github.com/firmai/firmsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes to the cloud database",
		Long: `Run one sync cycle: replay queued operations, then upsert every row
that changed locally since it was last confirmed remotely.

With --watch, keep running and sync every sync_interval seconds until
interrupted. Only one watcher runs per database; while it runs, a plain
"firmsync sync" asks it to sync immediately instead of syncing itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if watch {
				return runWatch(cmd)
			}

			return runSyncOnce(cmd)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "run the periodic scheduler until interrupted")

	return cmd
}

func runSyncOnce(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	pid, err := requestWatcherSync(pidFilePath(cc.Cfg))
	if err == nil {
		cc.Statusf("Sync requested from running watcher (PID %d).\n", pid)
		return nil
	}

	if !errors.Is(err, errNoWatcher) {
		cc.Logger.Debug("could not reach watcher, syncing here", slog.String("error", err.Error()))
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remote == nil {
		return errLocalOnly
	}

	report, err := a.manager.SyncNow(ctx)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printReport(cmd.OutOrStdout(), report)

	if report.Failed() {
		cc.Statusf("Some operations failed and will be retried on the next sync.\n")
	}

	return nil
}

func printReport(w io.Writer, r *sync.Report) {
	fmt.Fprintf(w, "Sync completed in %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Queue:  %d replayed, %d failed", r.Drained, r.DrainFailed)

	if r.Exhausted > 0 {
		fmt.Fprintf(w, ", %d exhausted", r.Exhausted)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Rows:   %d upserted, %d failed", r.Swept, r.SweepFailed)

	if r.Skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", r.Skipped)
	}

	if r.Suppressed > 0 {
		fmt.Fprintf(w, ", %d held back after repeated failures", r.Suppressed)
	}

	if r.Stale > 0 {
		fmt.Fprintf(w, ", %d changed during sync", r.Stale)
	}

	fmt.Fprintln(w)
}

// runWatch runs the scheduler until SIGINT/SIGTERM. It holds the PID-file
// lock for the whole run, syncs once at startup, answers SIGHUP with an
// immediate cycle, and applies offline_mode edits to the config file live.
func runWatch(cmd *cobra.Command) error {
	cc := mustCLIContext(cmd.Context())

	// SIGHUP must be handled before the PID file names this process: a
	// one-shot sync signals whatever PID it finds, and an unhandled SIGHUP
	// terminates the watcher.
	hupCtx, stopHUP := context.WithCancel(cmd.Context())
	defer stopHUP()

	requests := syncRequests(hupCtx)

	cleanup, err := writePIDFile(pidFilePath(cc.Cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.remote == nil {
		return errLocalOnly
	}

	cc.Statusf("Watching for changes every %s (Ctrl-C to stop).\n", cc.Cfg.Interval())

	a.manager.Tick(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.manager.Run(gctx, cc.Cfg.Interval())
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-requests:
				cc.Logger.Info("sync requested")
				a.manager.Tick(gctx)
			}
		}
	})

	g.Go(func() error {
		return watchConfig(gctx, cc, func(cfg *config.Config) {
			a.applyOfflineMode(gctx, cfg.OfflineMode)
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	cc.Statusf("Stopped.\n")

	return nil
}
