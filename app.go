package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/firmai/firmsync/internal/config"
	"github.com/firmai/firmsync/internal/connectivity"
	"github.com/firmai/firmsync/internal/flashcards"
	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/storage"
	"github.com/firmai/firmsync/internal/sync"
	"github.com/firmai/firmsync/internal/syncqueue"
)

// app is the fully wired service graph. Every field is built once in
// newApp and shared by pointer; nothing is constructed lazily.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *localstore.Store
	remote     *remote.Client // nil when no remote is configured
	monitor    *connectivity.Monitor
	queue      *syncqueue.Queue
	storage    *storage.Storage
	manager    *sync.Manager
	flashcards *flashcards.Service
}

// newApp opens the local store and builds the rest of the graph on top of
// it: store, remote, monitor, queue, storage, manager, domain services.
// httpClient may be nil.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, httpClient *http.Client) (*app, error) {
	store, err := localstore.Open(ctx, cfg.DatabasePath, localstore.Options{
		ReadConnections: cfg.ReadConnections,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}

	var (
		rc     *remote.Client
		prober connectivity.Prober
	)

	if cfg.RemoteConfigured() {
		rc = remote.NewClient(cfg.RemoteURL, cfg.RemoteAPIKey, httpClient, logger)
		probeTable := cfg.ProbeTable
		prober = connectivity.ProbeFunc(func(ctx context.Context) error {
			return rc.Probe(ctx, probeTable)
		})
	} else {
		logger.Warn("remote store not configured, running local-only",
			slog.Bool("has_url", cfg.RemoteURL != ""),
			slog.Bool("has_key", cfg.RemoteAPIKey != ""),
		)
	}

	monitor := connectivity.NewMonitor(prober, logger)
	monitor.SetForcedOffline(cfg.OfflineMode)

	queue := syncqueue.New(store, logger)
	st := storage.New(store, rc, monitor, queue, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		remote:  rc,
		monitor: monitor,
		queue:   queue,
		storage: st,
		manager: sync.NewManager(sync.Config{
			Storage:      st,
			Logger:       logger,
			SweepWorkers: cfg.SweepWorkers,
			CallTimeout:  cfg.Timeout(),
		}),
		flashcards: flashcards.NewService(st),
	}, nil
}

// Close releases the local store.
func (a *app) Close() error {
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("closing local store: %w", err)
	}

	return nil
}

// openApp builds the graph for a command and probes connectivity once, the
// way every entry point does at startup.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	a, err := newApp(ctx, cc.Cfg, cc.Logger, nil)
	if err != nil {
		return nil, err
	}

	if a.monitor.CheckOnline(ctx) {
		cc.Logger.Debug("remote store reachable")
	} else if a.remote != nil && !a.monitor.ForcedOffline() {
		cc.Logger.Info("remote store unreachable, working offline")
	}

	return a, nil
}

// applyOfflineMode switches forced-offline on or off at runtime.
func (a *app) applyOfflineMode(ctx context.Context, offline bool) {
	if a.monitor.ForcedOffline() == offline {
		return
	}

	a.monitor.SetForcedOffline(offline)

	if !offline {
		a.monitor.CheckOnline(ctx)
	}
}

// errLocalOnly reports that a command needs a configured remote.
var errLocalOnly = errors.New("no remote store configured")
