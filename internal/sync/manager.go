// Package sync reconciles the local store with the remote. A cycle drains
// the deferred-mutation queue, then sweeps dirty rows across the syncable
// tables and upserts them. At most one cycle runs at a time.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/storage"
	"github.com/firmai/firmsync/internal/syncqueue"
)

// ErrAlreadySyncing is returned to a caller that triggers a cycle while
// another one is running. No work is done and nothing is queued.
var ErrAlreadySyncing = errors.New("sync: already syncing")

const (
	// DefaultInterval is the scheduler period.
	DefaultInterval = 300 * time.Second
	// SweepLimit bounds the dirty rows pushed per table per cycle.
	SweepLimit = 20

	defaultSweepWorkers = 4
	defaultCallTimeout  = 30 * time.Second
)

// Config holds the manager's collaborators and tuning.
type Config struct {
	Storage *storage.Storage
	Logger  *slog.Logger
	// SweepWorkers bounds concurrent upserts within one table. Zero means 4.
	SweepWorkers int
	// CallTimeout bounds each remote call. Zero means 30s.
	CallTimeout time.Duration
}

// Manager runs sync cycles. Share one Manager per store.
type Manager struct {
	storage      *storage.Storage
	logger       *slog.Logger
	sweepWorkers int
	callTimeout  time.Duration
	failures     *failureTracker
	nowFunc      func() time.Time // injectable for deterministic tests

	mu       gosync.Mutex
	running  bool
	lastSync time.Time
}

// NewManager creates an idle manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workers := cfg.SweepWorkers
	if workers <= 0 {
		workers = defaultSweepWorkers
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Manager{
		storage:      cfg.Storage,
		logger:       logger,
		sweepWorkers: workers,
		callTimeout:  timeout,
		failures:     newFailureTracker(logger),
		nowFunc:      time.Now,
	}
}

// Status is a snapshot of the manager and queue. It is derived on demand
// and never persisted.
type Status struct {
	IsSyncing         bool       `json:"is_syncing"`
	LastSync          *time.Time `json:"last_sync"`
	PendingOperations int        `json:"pending_operations"`
	IsOnline          bool       `json:"is_online"`
}

// Report summarizes one completed cycle.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// Drain phase.
	Drained     int `json:"drained"`
	DrainFailed int `json:"drain_failed"`
	Exhausted   int `json:"exhausted"`

	// Sweep phase.
	Swept       int `json:"swept"`
	SweepFailed int `json:"sweep_failed"`
	// Stale counts rows upserted but rewritten locally meanwhile; they stay
	// dirty for the next cycle.
	Stale   int `json:"stale"`
	Skipped int `json:"skipped"`
	// Suppressed is how many rows are held back after repeated upsert
	// failures when the cycle ends.
	Suppressed int `json:"suppressed"`
}

// Failed reports whether any entry or row failed during the cycle.
func (r *Report) Failed() bool { return r.DrainFailed > 0 || r.SweepFailed > 0 }

// Enqueue appends an explicit deferred mutation to the queue.
func (m *Manager) Enqueue(
	ctx context.Context, op syncqueue.Operation, table, recordID string, payload any,
) (int64, error) {
	return m.storage.Queue().Enqueue(ctx, op, table, recordID, payload)
}

// Status returns the current status. The pending count covers queue
// entries under the attempt cap.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	st := Status{IsSyncing: m.running}

	if !m.lastSync.IsZero() {
		ls := m.lastSync
		st.LastSync = &ls
	}
	m.mu.Unlock()

	st.IsOnline = m.storage.IsOnline()

	pending, err := m.storage.Queue().PendingCount(ctx)
	if err != nil {
		return st, fmt.Errorf("sync: status: %w", err)
	}

	st.PendingOperations = pending

	return st, nil
}

// LastSync returns the time of the last completed cycle, zero if none.
func (m *Manager) LastSync() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastSync
}

func (m *Manager) tryStart() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return false
	}

	m.running = true

	return true
}

func (m *Manager) finish(completed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false

	if completed {
		m.lastSync = m.nowFunc()
	}
}

// SyncNow runs one cycle. It fails fast with ErrAlreadySyncing if a cycle
// is running and with storage.ErrOffline if the remote is unavailable; in
// both cases nothing is read or written. Individual entry and row
// failures do not fail the cycle, except a transport failure: the remote
// is then marked offline and the cycle stops with storage.ErrOffline so
// the next tick re-probes instead of spending queue attempts. A local store failure or a canceled ctx
// stops it, and last_sync advances only when both phases complete.
func (m *Manager) SyncNow(ctx context.Context) (*Report, error) {
	if !m.tryStart() {
		return nil, ErrAlreadySyncing
	}

	completed := false
	defer func() { m.finish(completed) }()

	rc, ok := m.storage.Remote()
	if !ok || !m.storage.IsOnline() {
		return nil, fmt.Errorf("sync: %w", storage.ErrOffline)
	}

	report := &Report{StartedAt: m.nowFunc()}

	m.logger.Info("sync cycle starting")

	if err := m.drain(ctx, rc, report); err != nil {
		return report, err
	}

	if err := m.sweep(ctx, rc, report); err != nil {
		return report, err
	}

	completed = true
	report.Duration = m.nowFunc().Sub(report.StartedAt)

	m.logger.Info("sync cycle complete",
		slog.Int("drained", report.Drained),
		slog.Int("drain_failed", report.DrainFailed),
		slog.Int("swept", report.Swept),
		slog.Int("sweep_failed", report.SweepFailed),
		slog.Int("skipped", report.Skipped),
		slog.Int("suppressed", report.Suppressed),
		slog.Duration("duration", report.Duration),
	)

	return report, nil
}

// drain replays one batch of due queue entries in creation order.
func (m *Manager) drain(ctx context.Context, rc *remote.Client, report *Report) error {
	queue := m.storage.Queue()

	entries, err := queue.DequeueBatch(ctx, syncqueue.BatchSize)
	if err != nil {
		return fmt.Errorf("sync: drain: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync: drain: %w", err)
		}

		callErr := m.replay(ctx, rc, e)
		if errors.Is(callErr, remote.ErrUnreachable) {
			return m.wentOffline("drain", callErr)
		}

		if callErr == nil {
			if err := queue.Remove(ctx, e.ID); err != nil {
				return fmt.Errorf("sync: drain: %w", err)
			}

			report.Drained++

			continue
		}

		attempts, err := queue.IncrementAttempts(ctx, e.ID, callErr)
		if err != nil {
			return fmt.Errorf("sync: drain: %w", err)
		}

		report.DrainFailed++
		if attempts >= syncqueue.MaxAttempts {
			report.Exhausted++
		}

		m.logger.Warn("queued mutation failed",
			slog.Int64("entry_id", e.ID),
			slog.String("op", string(e.Operation)),
			slog.String("table", e.Table),
			slog.String("record_id", e.RecordID),
			slog.Int("attempts", attempts),
			slog.String("error", callErr.Error()),
		)
	}

	return nil
}

// replay executes one queue entry. Inserts are sent as upserts so that an
// entry replayed after a lost response does not conflict with itself.
func (m *Manager) replay(ctx context.Context, rc *remote.Client, e syncqueue.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	var err error

	switch e.Operation {
	case syncqueue.OpInsert:
		_, err = rc.Upsert(e.Table, e.Data, "id").Execute(ctx)
	case syncqueue.OpUpdate:
		_, err = rc.Update(e.Table, e.Data).Eq("id", e.RecordID).Execute(ctx)
	case syncqueue.OpDelete:
		_, err = rc.Delete(e.Table).Eq("id", e.RecordID).Execute(ctx)
	default:
		err = fmt.Errorf("%w: %q", syncqueue.ErrInvalidOperation, e.Operation)
	}

	return err
}

// sweep pushes dirty rows table by table, in parent-before-child order.
// Rows of one table are upserted concurrently.
func (m *Manager) sweep(ctx context.Context, rc *remote.Client, report *Report) error {
	local := m.storage.Local()

	for _, t := range localstore.Tables {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync: sweep: %w", err)
		}

		rows, skipped, err := local.DirtyRowsExcept(ctx, t, SweepLimit, func(id string) bool {
			return m.failures.shouldSkip(rowKey(t.Name, id))
		})
		if err != nil {
			return fmt.Errorf("sync: sweep: %w", err)
		}

		report.Skipped += skipped

		if len(rows) == 0 {
			continue
		}

		if err := m.sweepTable(ctx, rc, local, t, rows, report); err != nil {
			return err
		}
	}

	report.Suppressed = m.failures.suppressed()

	return nil
}

// wentOffline marks the remote unreachable and returns the error that
// ends the cycle.
func (m *Manager) wentOffline(phase string, cause error) error {
	m.storage.SetOnline(false)

	m.logger.Warn("remote unreachable, stopping sync cycle",
		slog.String("phase", phase),
		slog.String("error", cause.Error()),
	)

	return fmt.Errorf("sync: %s: %w: %w", phase, storage.ErrOffline, cause)
}

func (m *Manager) sweepTable(
	ctx context.Context,
	rc *remote.Client,
	local *localstore.Store,
	t localstore.Table,
	rows []localstore.Row,
	report *Report,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.sweepWorkers)

	var mu gosync.Mutex

	for _, row := range rows {
		key := rowKey(t.Name, row.ID)

		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, m.callTimeout)
			_, err := rc.Upsert(t.Name, row.Payload, "id").Execute(callCtx)
			cancel()

			if err != nil {
				if errors.Is(err, remote.ErrUnreachable) {
					return m.wentOffline("sweep "+t.Name, err)
				}

				// A sibling already ended the cycle; this row did not fail.
				if gctx.Err() != nil {
					return nil
				}

				m.failures.recordFailure(key, err.Error())

				mu.Lock()
				report.SweepFailed++
				mu.Unlock()

				m.logger.Warn("dirty row upsert failed",
					slog.String("table", t.Name),
					slog.String("record_id", row.ID),
					slog.String("error", err.Error()),
				)

				return nil
			}

			m.failures.recordSuccess(key)

			ok, err := local.MarkSynced(gctx, t, row.ID, row.Rev)
			if err != nil {
				return fmt.Errorf("sync: sweep %s: %w", t.Name, err)
			}

			mu.Lock()
			if ok {
				report.Swept++
			} else {
				report.Stale++
			}
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync: sweep: %w", err)
	}

	return nil
}
