package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/firmai/firmsync/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Long: `Display whether the remote store is reachable, when the last successful
sync finished, and how many queued operations are still pending.

Probes the remote store once. Nothing is written.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusOutput is the JSON shape of "status --json": the sync status plus
// local context useful for support.
type statusOutput struct {
	sync.Status

	Exhausted    int            `json:"exhausted_operations"`
	DirtyRows    map[string]int `json:"dirty_rows"`
	RemoteURL    string         `json:"remote_url,omitempty"`
	OfflineMode  bool           `json:"offline_mode"`
	DatabasePath string         `json:"database_path"`
	WatcherPID   int            `json:"watcher_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	st, err := a.manager.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	exhausted, err := a.queue.ListExhausted(ctx)
	if err != nil {
		return fmt.Errorf("reading queue: %w", err)
	}

	dirty, err := a.store.DirtyCounts(ctx)
	if err != nil {
		return fmt.Errorf("counting dirty rows: %w", err)
	}

	out := statusOutput{
		Status:       st,
		Exhausted:    len(exhausted),
		DirtyRows:    dirty,
		RemoteURL:    cc.Cfg.RemoteURL,
		OfflineMode:  cc.Cfg.OfflineMode,
		DatabasePath: a.store.Path(),
	}

	if pid, err := readPIDFile(pidFilePath(cc.Cfg)); err == nil && processAlive(pid) {
		out.WatcherPID = pid
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), &out)

	return nil
}

func printStatusText(w io.Writer, s *statusOutput) {
	conn := "offline"

	switch {
	case s.OfflineMode:
		conn = "offline (offline_mode)"
	case s.RemoteURL == "":
		conn = "local only (no remote configured)"
	case s.IsOnline:
		conn = "online"
	}

	lastSync := "never"
	if s.LastSync != nil {
		lastSync = formatTime(*s.LastSync)
	}

	fmt.Fprintf(w, "Connectivity:   %s\n", conn)

	if s.RemoteURL != "" {
		fmt.Fprintf(w, "Remote:         %s\n", s.RemoteURL)
	}

	fmt.Fprintf(w, "Database:       %s\n", s.DatabasePath)
	fmt.Fprintf(w, "Last sync:      %s\n", lastSync)
	fmt.Fprintf(w, "Pending ops:    %d\n", s.PendingOperations)

	if s.Exhausted > 0 {
		fmt.Fprintf(w, "Exhausted ops:  %d (see 'firmsync queue list --exhausted')\n", s.Exhausted)
	}

	total := 0
	for _, n := range s.DirtyRows {
		total += n
	}

	fmt.Fprintf(w, "Unsynced rows:  %d\n", total)

	if s.WatcherPID > 0 {
		fmt.Fprintf(w, "Watcher:        running (PID %d)\n", s.WatcherPID)
	}
}
