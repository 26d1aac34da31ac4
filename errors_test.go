package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firmai/firmsync/internal/flashcards"
	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/storage"
	"github.com/firmai/firmsync/internal/sync"
	"github.com/firmai/firmsync/internal/syncqueue"
)

func TestUserMessage(t *testing.T) {
	t.Parallel()

	serverErr := &remote.Error{
		Method:     http.MethodPost,
		Table:      "flashcard_sets",
		StatusCode: http.StatusBadGateway,
		Err:        remote.ErrServerError,
	}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"local only", errLocalOnly, "No remote store is configured"},
		{"offline", fmt.Errorf("sync: %w", storage.ErrOffline), "requires an internet connection"},
		{"already syncing", sync.ErrAlreadySyncing, "already in progress"},
		{"interrupted", fmt.Errorf("drain: %w", context.Canceled), "Interrupted."},
		{"unauthorized", &remote.Error{StatusCode: 401, Err: remote.ErrUnauthorized}, "rejected the credentials"},
		{"forbidden", &remote.Error{StatusCode: 403, Err: remote.ErrForbidden}, "rejected the credentials"},
		{"conflict", &remote.Error{StatusCode: 409, Err: remote.ErrConflict}, "conflicts with a newer copy"},
		{"other status", serverErr, "Cloud sync failed (HTTP 502)"},
		{"unreachable", fmt.Errorf("%w: dial tcp", remote.ErrUnreachable), "unreachable"},
		{"set not found", fmt.Errorf("%w: set s1", flashcards.ErrNotFound), "Not found: "},
		{"queue entry not found", syncqueue.ErrNotFound, "Not found: "},
		{"invalid", fmt.Errorf("%w: title is required", flashcards.ErrInvalid), "Invalid input: "},
		{"store", fmt.Errorf("%w: disk I/O", localstore.ErrStore), "Local database error: "},
		{"plain", errors.New("something odd"), "something odd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Contains(t, userMessage(tt.err), tt.want)
		})
	}
}

func TestDeferReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pending", deferReason(nil))
	assert.Equal(t, "offline", deferReason(fmt.Errorf("insert: %w", storage.ErrOffline)))
	assert.Equal(t, "remote returned HTTP 500",
		deferReason(&remote.Error{StatusCode: 500, Err: remote.ErrServerError}))
	assert.Equal(t, "remote unreachable", deferReason(fmt.Errorf("%w: timeout", remote.ErrUnreachable)))
	assert.Equal(t, "boom", deferReason(errors.New("boom")))
}
