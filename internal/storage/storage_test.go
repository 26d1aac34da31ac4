package storage

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmai/firmsync/internal/connectivity"
	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/syncqueue"
	"github.com/firmai/firmsync/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	storage *Storage
	fake    *testutil.FakeRemote
}

func newFixture(t *testing.T, withRemote bool) *fixture {
	t.Helper()

	ctx := context.Background()
	logger := testLogger()

	local, err := localstore.Open(ctx, filepath.Join(t.TempDir(), "storage.db"), localstore.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	f := &fixture{}

	var rc *remote.Client

	var prober connectivity.Prober

	if withRemote {
		f.fake = testutil.NewFakeRemote(t)
		rc = remote.NewClient(f.fake.URL(), "anon", &http.Client{Timeout: 5 * time.Second}, logger)
		prober = connectivity.ProbeFunc(func(ctx context.Context) error { return rc.Probe(ctx, "profiles") })
	}

	monitor := connectivity.NewMonitor(prober, logger)
	f.storage = New(local, rc, monitor, syncqueue.New(local, logger), logger)

	return f
}

func insertSet(id, title string) Mutation {
	return Mutation{
		Op:       syncqueue.OpInsert,
		Table:    localstore.FlashcardSetsTable,
		RecordID: id,
		Write: func(ctx context.Context, q localstore.Querier) error {
			_, err := q.ExecContext(ctx,
				`INSERT INTO flashcard_sets (id, user_id, title, created_at, updated_at)
				 VALUES (?, 'u1', ?, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`, id, title)

			return err
		},
	}
}

func deleteSet(id string) Mutation {
	return Mutation{
		Op:       syncqueue.OpDelete,
		Table:    localstore.FlashcardSetsTable,
		RecordID: id,
		Write: func(ctx context.Context, q localstore.Querier) error {
			_, err := q.ExecContext(ctx, `DELETE FROM flashcard_sets WHERE id = ?`, id)
			return err
		},
	}
}

func TestApply_OnlineSyncsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.storage.CheckOnline(ctx))

	res, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)
	assert.True(t, res.Synced)
	assert.False(t, res.Deferred)
	assert.NoError(t, res.Cause)

	synced, dirty, err := f.storage.Local().SyncFlags(ctx, localstore.FlashcardSetsTable, "s1")
	require.NoError(t, err)
	assert.True(t, synced)
	assert.False(t, dirty)

	row, ok := f.fake.Row("flashcard_sets", "s1")
	require.True(t, ok)
	assert.Equal(t, "Torts", row["title"])
	assert.NotContains(t, row, "dirty")
}

func TestApply_OfflineLeavesRowDirty(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	res, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err, "the local write succeeds while offline")
	assert.True(t, res.Deferred)
	assert.ErrorIs(t, res.Cause, ErrOffline)

	synced, dirty, err := f.storage.Local().SyncFlags(ctx, localstore.FlashcardSetsTable, "s1")
	require.NoError(t, err)
	assert.False(t, synced)
	assert.True(t, dirty)

	assert.Empty(t, f.fake.Requests(), "offline writes never touch the network")
}

func TestApply_NoRemoteConfigured(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()

	_, ok := f.storage.Remote()
	assert.False(t, ok)

	f.storage.SetOnline(true)

	res, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.ErrorIs(t, res.Cause, ErrOffline)
}

func TestApply_RemoteFailureIsReportedNotReturned(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.storage.CheckOnline(ctx))

	f.fake.FailRecord("flashcard_sets", "s1", http.StatusInternalServerError)

	res, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.False(t, res.Synced)
	assert.Equal(t, http.StatusInternalServerError, remote.StatusCode(res.Cause))

	_, dirty, err := f.storage.Local().SyncFlags(ctx, localstore.FlashcardSetsTable, "s1")
	require.NoError(t, err)
	assert.True(t, dirty, "local write is kept and left for the sweep")
	assert.True(t, f.storage.IsOnline(), "an HTTP error does not flip connectivity")
}

func TestApply_DeleteOfflineIsQueued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)

	res, err := f.storage.Apply(ctx, deleteSet("s1"))
	require.NoError(t, err)
	assert.True(t, res.Deferred)

	entries, err := f.storage.Queue().List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, syncqueue.OpDelete, entries[0].Operation)
	assert.Equal(t, "flashcard_sets", entries[0].Table)
	assert.Equal(t, "s1", entries[0].RecordID)
}

func TestApply_DeleteOnline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()
	require.True(t, f.storage.CheckOnline(ctx))

	_, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)

	res, err := f.storage.Apply(ctx, deleteSet("s1"))
	require.NoError(t, err)
	assert.True(t, res.Synced)

	_, ok := f.fake.Row("flashcard_sets", "s1")
	assert.False(t, ok)

	n, err := f.storage.Queue().PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApply_LocalFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.storage.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)

	// Duplicate primary key.
	_, err = f.storage.Apply(ctx, insertSet("s1", "Again"))
	require.Error(t, err)
	assert.ErrorIs(t, err, localstore.ErrStore)
}

func TestApply_WriteErrorRollsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)
	ctx := context.Background()
	boom := errors.New("boom")

	m := insertSet("s1", "Torts")
	inner := m.Write
	m.Write = func(ctx context.Context, q localstore.Querier) error {
		if err := inner(ctx, q); err != nil {
			return err
		}

		return boom
	}

	_, err := f.storage.Apply(ctx, m)
	require.ErrorIs(t, err, boom)

	rows, err := f.storage.Local().DirtyRows(ctx, localstore.FlashcardSetsTable, 20)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestApply_UnreachableFlipsOffline(t *testing.T) {
	t.Parallel()

	logger := testLogger()
	ctx := context.Background()

	local, err := localstore.Open(ctx, filepath.Join(t.TempDir(), "s.db"), localstore.Options{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	rc := remote.NewClient("http://127.0.0.1:1", "anon", &http.Client{Timeout: time.Second}, logger)
	monitor := connectivity.NewMonitor(nil, logger)
	monitor.SetOnline(true)

	s := New(local, rc, monitor, syncqueue.New(local, logger), logger)

	res, err := s.Apply(ctx, insertSet("s1", "Torts"))
	require.NoError(t, err)
	assert.True(t, res.Deferred)
	assert.ErrorIs(t, res.Cause, remote.ErrUnreachable)
	assert.False(t, s.IsOnline())
}
