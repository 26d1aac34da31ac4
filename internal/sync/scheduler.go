package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Run triggers a cycle every interval until ctx is canceled. Errors,
// including Offline and panics inside a tick, are logged and never stop
// the loop. interval <= 0 means DefaultInterval.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}

	m.logger.Info("sync scheduler started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick is one scheduler step: re-probe if offline, skip if still offline,
// otherwise run a cycle. It returns the cycle's report, or nil when the
// tick was skipped or failed.
func (m *Manager) Tick(ctx context.Context) (report *Report) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sync tick panicked", slog.String("panic", fmt.Sprint(r)))
			report = nil
		}
	}()

	if !m.storage.IsOnline() && !m.storage.CheckOnline(ctx) {
		m.logger.Debug("sync tick skipped: offline")
		return nil
	}

	report, err := m.SyncNow(ctx)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrAlreadySyncing) || errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}

		m.logger.Log(ctx, level, "sync tick failed", slog.String("error", err.Error()))

		return nil
	}

	return report
}
