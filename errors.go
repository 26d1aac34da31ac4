package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/firmai/firmsync/internal/flashcards"
	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/storage"
	"github.com/firmai/firmsync/internal/sync"
	"github.com/firmai/firmsync/internal/syncqueue"
)

// userMessage turns an error into the sentence shown to the user. Errors
// without a mapping print as is.
func userMessage(err error) string {
	var rerr *remote.Error

	switch {
	case errors.Is(err, errLocalOnly):
		return "No remote store is configured. Set remote_url and remote_api_key " +
			"(or SUPABASE_URL and SUPABASE_KEY) to enable cloud sync."
	case errors.Is(err, storage.ErrOffline):
		return "This operation requires an internet connection. Your changes have been saved locally."
	case errors.Is(err, sync.ErrAlreadySyncing):
		return "A sync is already in progress. Try again when it finishes."
	case errors.Is(err, context.Canceled):
		return "Interrupted."
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrForbidden):
		return "The cloud database rejected the credentials. Check remote_api_key."
	case errors.Is(err, remote.ErrConflict):
		return "The record conflicts with a newer copy in the cloud database."
	case errors.As(err, &rerr):
		return fmt.Sprintf("Cloud sync failed (HTTP %d). Your changes are saved locally and will be retried.",
			rerr.StatusCode)
	case errors.Is(err, remote.ErrUnreachable):
		return "The cloud database is unreachable. Your changes are saved locally and will be retried."
	case errors.Is(err, flashcards.ErrNotFound), errors.Is(err, syncqueue.ErrNotFound):
		return "Not found: " + err.Error()
	case errors.Is(err, flashcards.ErrInvalid):
		return "Invalid input: " + err.Error()
	case errors.Is(err, localstore.ErrStore):
		return "Local database error: " + err.Error()
	default:
		return err.Error()
	}
}
