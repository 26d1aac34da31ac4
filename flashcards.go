package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/firmai/firmsync/internal/flashcards"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/storage"
)

func newFlashcardsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "flashcards",
		Aliases: []string{"fc"},
		Short:   "Manage flashcard sets",
		Long: `Create and browse flashcard sets. Every change is saved locally first
and mirrored to the cloud database when online; offline changes sync later.`,
	}

	cmd.AddCommand(newFlashcardsCreateSetCmd())
	cmd.AddCommand(newFlashcardsListCmd())
	cmd.AddCommand(newFlashcardsAddCmd())
	cmd.AddCommand(newFlashcardsDeleteSetCmd())

	return cmd
}

// reportWrite tells the user where a write landed. A deferred remote write
// is not an error: the local copy is saved and will sync later.
func reportWrite(cc *CLIContext, what string, res storage.Result) {
	switch {
	case res.Synced:
		cc.Statusf("%s saved and synced.\n", what)
	case res.Deferred:
		cc.Statusf("%s saved locally; cloud sync deferred (%s).\n", what, deferReason(res.Cause))
	default:
		cc.Statusf("%s saved locally.\n", what)
	}
}

func deferReason(cause error) string {
	var rerr *remote.Error

	switch {
	case cause == nil:
		return "pending"
	case errors.Is(cause, storage.ErrOffline):
		return "offline"
	case errors.As(cause, &rerr):
		return fmt.Sprintf("remote returned HTTP %d", rerr.StatusCode)
	case errors.Is(cause, remote.ErrUnreachable):
		return "remote unreachable"
	default:
		return cause.Error()
	}
}

func newFlashcardsCreateSetCmd() *cobra.Command {
	var userID, title, description string

	cmd := &cobra.Command{
		Use:   "create-set",
		Short: "Create a flashcard set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			set, res, err := a.flashcards.CreateSet(ctx, userID, title, description)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), set)
			}

			fmt.Fprintln(cmd.OutOrStdout(), set.ID)
			reportWrite(cc, "Set", res)

			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner user ID")
	cmd.Flags().StringVar(&title, "title", "", "set title")
	cmd.Flags().StringVar(&description, "description", "", "optional description")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func newFlashcardsListCmd() *cobra.Command {
	var userID, setID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sets, or the cards of one set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			// Reads never touch the network.
			a, err := newApp(ctx, cc.Cfg, cc.Logger, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if setID != "" {
				cards, err := a.flashcards.ListFlashcards(ctx, setID)
				if err != nil {
					return err
				}

				if cc.Flags.JSON {
					return printJSON(cmd.OutOrStdout(), nonNil(cards))
				}

				printCards(cmd.OutOrStdout(), cards)

				return nil
			}

			if userID == "" {
				return fmt.Errorf("%w: --user or --set is required", flashcards.ErrInvalid)
			}

			sets, err := a.flashcards.ListSets(ctx, userID)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), nonNil(sets))
			}

			printSets(cmd.OutOrStdout(), sets)

			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "list sets owned by this user")
	cmd.Flags().StringVar(&setID, "set", "", "list the cards of this set")

	return cmd
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}

	return s
}

func syncedMark(synced bool) string {
	if synced {
		return "yes"
	}

	return "no"
}

func printSets(w io.Writer, sets []flashcards.Set) {
	rows := make([][]string, 0, len(sets))
	for _, s := range sets {
		rows = append(rows, []string{s.ID, truncate(s.Title, 40), s.UpdatedAt, syncedMark(s.Synced)})
	}

	printTable(w, []string{"ID", "TITLE", "UPDATED", "SYNCED"}, rows)
}

func printCards(w io.Writer, cards []flashcards.Flashcard) {
	rows := make([][]string, 0, len(cards))
	for _, c := range cards {
		rows = append(rows, []string{c.ID, truncate(c.Front, 40), truncate(c.Back, 40), syncedMark(c.Synced)})
	}

	printTable(w, []string{"ID", "FRONT", "BACK", "SYNCED"}, rows)
}

func newFlashcardsAddCmd() *cobra.Command {
	var setID, front, back string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a card to a set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			card, res, err := a.flashcards.AddFlashcard(ctx, setID, front, back)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), card)
			}

			fmt.Fprintln(cmd.OutOrStdout(), card.ID)
			reportWrite(cc, "Card", res)

			return nil
		},
	}

	cmd.Flags().StringVar(&setID, "set", "", "set ID")
	cmd.Flags().StringVar(&front, "front", "", "question side")
	cmd.Flags().StringVar(&back, "back", "", "answer side")
	_ = cmd.MarkFlagRequired("set")
	_ = cmd.MarkFlagRequired("front")
	_ = cmd.MarkFlagRequired("back")

	return cmd
}

func newFlashcardsDeleteSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-set <id>",
		Short: "Delete a set and its cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc := mustCLIContext(ctx)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.flashcards.DeleteSet(ctx, args[0])
			if err != nil {
				return err
			}

			reportWrite(cc, "Deletion", res)

			return nil
		},
	}
}
