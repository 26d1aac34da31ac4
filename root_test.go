package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firmai/firmsync/internal/config"
)

func TestBuildLogger_AutoFormatOnBufferIsJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger, closer := buildLogger(config.DefaultConfig(), CLIFlags{}, &buf)
	assert.Nil(t, closer)

	logger.Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestBuildLogger_TextFormat(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.LogFormat = "text"

	var buf bytes.Buffer

	logger, _ := buildLogger(cfg, CLIFlags{}, &buf)
	logger.Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
}

func TestBuildLogger_Levels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		level    string
		flags    CLIFlags
		debugOn  bool
		infoOn   bool
		errorsOn bool
	}{
		{name: "config info", level: "info", infoOn: true, errorsOn: true},
		{name: "config debug", level: "debug", debugOn: true, infoOn: true, errorsOn: true},
		{name: "config warn", level: "warn", errorsOn: true},
		{name: "verbose wins", level: "error", flags: CLIFlags{Verbose: true}, debugOn: true, infoOn: true, errorsOn: true},
		{name: "quiet wins", level: "debug", flags: CLIFlags{Quiet: true}, errorsOn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.level

			logger, _ := buildLogger(cfg, tt.flags, &bytes.Buffer{})
			ctx := context.Background()

			assert.Equal(t, tt.debugOn, logger.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tt.infoOn, logger.Enabled(ctx, slog.LevelInfo))
			assert.Equal(t, tt.errorsOn, logger.Enabled(ctx, slog.LevelError))
		})
	}
}

func TestBuildLogger_LogFileRotates(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "firmsync.log")

	var stderr bytes.Buffer

	logger, closer := buildLogger(cfg, CLIFlags{}, &stderr)
	require.NotNil(t, closer)

	logger.Info("to the file")
	require.NoError(t, closer.Close())

	assert.Empty(t, stderr.String())

	data, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to the file"`)
}

func TestBuildLogger_NilConfig(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger, closer := buildLogger(nil, CLIFlags{}, &buf)
	assert.Nil(t, closer)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestUseJSONLogs(t *testing.T) {
	t.Parallel()

	assert.True(t, useJSONLogs("json", os.Stderr))
	assert.False(t, useJSONLogs("text", &bytes.Buffer{}))
	assert.True(t, useJSONLogs("auto", &bytes.Buffer{}))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	defer f.Close()

	// A regular file is not a terminal.
	assert.True(t, useJSONLogs("auto", f))
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{}
	assert.Same(t, cc, mustCLIContext(withCLIContext(context.Background(), cc)))
}

func TestCLIContextClose_NoLogFile(t *testing.T) {
	t.Parallel()

	cc := &CLIContext{}
	assert.NoError(t, cc.Close())
}
