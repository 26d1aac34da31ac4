package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/firmai/firmsync/internal/syncqueue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued operations",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueRequeueCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	var exhausted bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		Long: fmt.Sprintf(`List operations waiting to be replayed against the cloud database.

An operation that fails %d times is exhausted: it is kept but never retried
automatically. Use --exhausted to list only those, and "queue requeue" to
retry one.`, syncqueue.MaxAttempts),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := newApp(ctx, cc.Cfg, cc.Logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var entries []syncqueue.Entry
			if exhausted {
				entries, err = a.queue.ListExhausted(ctx)
			} else {
				entries, err = a.queue.List(ctx)
			}

			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if entries == nil {
					entries = []syncqueue.Entry{}
				}

				return printJSON(cmd.OutOrStdout(), entries)
			}

			if len(entries) == 0 {
				cc.Statusf("Queue is empty.\n")
				return nil
			}

			printQueue(cmd.OutOrStdout(), entries)

			return nil
		},
	}

	cmd.Flags().BoolVar(&exhausted, "exhausted", false, "only list operations that reached the attempt cap")

	return cmd
}

func printQueue(w io.Writer, entries []syncqueue.Entry) {
	rows := make([][]string, 0, len(entries))

	for i := range entries {
		e := &entries[i]

		state := "pending"
		if e.Exhausted() {
			state = "exhausted"
		}

		rows = append(rows, []string{
			strconv.FormatInt(e.ID, 10),
			string(e.Operation),
			e.Table,
			e.RecordID,
			fmt.Sprintf("%d/%d", e.Attempts, syncqueue.MaxAttempts),
			state,
			formatTime(e.CreatedAt),
			truncate(e.LastError, 40),
		})
	}

	printTable(w, []string{"ID", "OP", "TABLE", "RECORD", "ATTEMPTS", "STATE", "CREATED", "LAST ERROR"}, rows)
}

func newQueueRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Reset an operation's attempts so it is retried",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid queue entry id %q", args[0])
			}

			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := newApp(ctx, cc.Cfg, cc.Logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.queue.Requeue(ctx, id); err != nil {
				return err
			}

			cc.Statusf("Requeued operation %d; it will be retried on the next sync.\n", id)

			return nil
		},
	}
}
