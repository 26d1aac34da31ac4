// Package connectivity tracks whether the remote store is reachable. The
// status is a cached flag refreshed only by explicit probes; nothing polls
// in the background.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Prober performs one cheap authenticated read against the remote.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor holds the online flag. It is safe for concurrent use.
type Monitor struct {
	online atomic.Bool
	forced atomic.Bool
	prober Prober
	probes singleflight.Group
	logger *slog.Logger
}

// NewMonitor creates a monitor. A nil prober means no remote is
// configured: CheckOnline always reports false.
func NewMonitor(prober Prober, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{prober: prober, logger: logger}
}

// IsOnline returns the cached status without touching the network.
func (m *Monitor) IsOnline() bool {
	return !m.forced.Load() && m.online.Load()
}

// CheckOnline probes the remote, caches the outcome and returns it. Any
// probe error, including auth failures, counts as offline. Concurrent
// callers share a single in-flight probe.
func (m *Monitor) CheckOnline(ctx context.Context) bool {
	if m.forced.Load() || m.prober == nil {
		m.SetOnline(false)
		return false
	}

	v, _, _ := m.probes.Do("probe", func() (any, error) {
		err := m.prober.Probe(ctx)
		if err != nil {
			m.logger.Debug("connectivity probe failed", slog.String("error", err.Error()))
		}

		return err == nil, nil
	})

	online, _ := v.(bool)
	m.SetOnline(online)

	return online
}

// SetOnline overwrites the cached status.
func (m *Monitor) SetOnline(online bool) {
	if prev := m.online.Swap(online); prev != online {
		m.logger.Info("connectivity changed", slog.Bool("online", online))
	}
}

// SetForcedOffline pins the monitor offline regardless of probes. Turning
// it off leaves the cached flag as is; the next probe refreshes it.
func (m *Monitor) SetForcedOffline(forced bool) {
	if prev := m.forced.Swap(forced); prev != forced {
		m.logger.Info("offline mode changed", slog.Bool("offline_mode", forced))
	}
}

// ForcedOffline reports whether offline mode is pinned.
func (m *Monitor) ForcedOffline() bool { return m.forced.Load() }
