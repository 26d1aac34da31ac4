package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmai/firmsync/internal/config"
	"github.com/firmai/firmsync/testutil"
)

// setupCLIEnv points the CLI at a fake remote and a throwaway database
// through the environment. Tests using it cannot run in parallel.
func setupCLIEnv(t *testing.T) (*testutil.FakeRemote, string) {
	t.Helper()

	fake := testutil.NewFakeRemote(t)
	dir := t.TempDir()

	t.Setenv(config.EnvConfig, filepath.Join(dir, "config.toml"))
	t.Setenv(config.EnvRemoteURL, fake.URL())
	t.Setenv(config.EnvRemoteKey, "test-anon-key")
	t.Setenv(config.EnvDatabasePath, filepath.Join(dir, "firm_ai.db"))
	t.Setenv(config.EnvSyncInterval, "")
	t.Setenv(config.EnvOfflineMode, "")

	return fake, dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func mustRunCLI(t *testing.T, args ...string) string {
	t.Helper()

	out, err := runCLI(t, args...)
	require.NoError(t, err, "firmsync %v", args)

	return out
}

func TestCLI_CreateSetOnlineIsMirrored(t *testing.T) {
	fake, _ := setupCLIEnv(t)

	out := mustRunCLI(t, "flashcards", "create-set", "--user", "u1", "--title", "Torts", "--json")

	var set map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &set))

	id, ok := set["id"].(string)
	require.True(t, ok)
	assert.Equal(t, "Torts", set["title"])

	row, ok := fake.Row("flashcard_sets", id)
	require.True(t, ok)
	assert.Equal(t, "u1", row["user_id"])
}

func TestCLI_OfflineCreateThenSync(t *testing.T) {
	fake, _ := setupCLIEnv(t)

	out := mustRunCLI(t, "--offline", "flashcards", "create-set", "--user", "u1", "--title", "Evidence")
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)
	assert.Empty(t, fake.Rows("flashcard_sets"))

	out = mustRunCLI(t, "status", "--json")

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, true, st["is_online"])

	dirty, ok := st["dirty_rows"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, dirty["flashcard_sets"])

	out = mustRunCLI(t, "sync", "--json")

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.EqualValues(t, 1, report["swept"])

	_, ok = fake.Row("flashcard_sets", id)
	assert.True(t, ok)
}

func TestCLI_OfflineDeleteQueuedThenDrained(t *testing.T) {
	fake, _ := setupCLIEnv(t)

	id := strings.TrimSpace(mustRunCLI(t, "flashcards", "create-set", "--user", "u1", "--title", "Contracts"))

	mustRunCLI(t, "--offline", "flashcards", "delete-set", id)

	out := mustRunCLI(t, "queue", "list", "--json")

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "delete", entries[0]["operation_type"])
	assert.Equal(t, id, entries[0]["record_id"])

	mustRunCLI(t, "sync")

	_, ok := fake.Row("flashcard_sets", id)
	assert.False(t, ok)

	out = mustRunCLI(t, "queue", "list", "--json")
	assert.JSONEq(t, "[]", out)
}

func TestCLI_SyncWhileOfflineFails(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "--offline", "sync")
	require.Error(t, err)
	assert.Contains(t, userMessage(err), "requires an internet connection")
}

func TestCLI_SyncWithoutRemoteIsLocalOnly(t *testing.T) {
	setupCLIEnv(t)
	t.Setenv(config.EnvRemoteURL, "")
	t.Setenv(config.EnvRemoteURLPublic, "")

	_, err := runCLI(t, "sync")
	assert.ErrorIs(t, err, errLocalOnly)
}

func TestCLI_ListRequiresUserOrSet(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "flashcards", "list")
	require.Error(t, err)
	assert.Contains(t, userMessage(err), "Invalid input")
}

func TestCLI_RequeueUnknownEntry(t *testing.T) {
	setupCLIEnv(t)

	_, err := runCLI(t, "queue", "requeue", "99")
	require.Error(t, err)
	assert.Contains(t, userMessage(err), "Not found")

	_, err = runCLI(t, "queue", "requeue", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid queue entry id")
}

func TestCLI_ConfigShowRedactsKey(t *testing.T) {
	fake, _ := setupCLIEnv(t)

	out := mustRunCLI(t, "config", "show")
	assert.NotContains(t, out, "test-anon-key")
	assert.Contains(t, out, "<redacted>")
	assert.Contains(t, out, fake.URL())

	out = mustRunCLI(t, "config", "show", "--json")

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, "<redacted>", shown["remote_api_key"])
	assert.Equal(t, fake.URL(), shown["remote_url"])
}

func TestCLI_DBFlagOverridesEnv(t *testing.T) {
	_, dir := setupCLIEnv(t)

	dbPath := filepath.Join(dir, "other.db")

	out := mustRunCLI(t, "--db", dbPath, "config", "show", "--json")

	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, dbPath, shown["database_path"])
}

func TestCLI_BadConfigFails(t *testing.T) {
	_, dir := setupCLIEnv(t)

	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("sync_intervall = 60\n"), 0o600))

	_, err := runCLI(t, "--config", path, "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "sync_interval"`)
}

func TestWatchConfig_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("offline_mode = false\n"), 0o600))

	cc := &CLIContext{
		CLI:    config.CLIOverrides{ConfigPath: path},
		Cfg:    &config.Config{Path: path},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *config.Config, 16)
	done := make(chan error, 1)

	go func() {
		done <- watchConfig(ctx, cc, func(cfg *config.Config) { changed <- cfg })
	}()

	// The watcher registers asynchronously; keep writing until it reports.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	deadline := time.After(5 * time.Second)

	var got *config.Config

	for got == nil {
		select {
		case cfg := <-changed:
			if cfg.OfflineMode {
				got = cfg
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("offline_mode = true\n"), 0o600))
		case <-deadline:
			t.Fatal("config change not observed within 5 seconds")
		}
	}

	assert.Equal(t, path, got.Path)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatchConfig_InvalidReloadKeepsSettings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("sync_interval = 1\n"), 0o600))

	cc := &CLIContext{
		CLI:    config.CLIOverrides{ConfigPath: path},
		Cfg:    &config.Config{Path: path},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	called := false
	reloadConfig(cc, func(*config.Config) { called = true })

	assert.False(t, called)
}
