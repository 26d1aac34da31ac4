// Package storage is the hybrid store handed to domain services. Every
// mutation is committed locally first; the remote copy is written
// immediately when online and deferred otherwise, either to the dirty
// sweep or to the sync queue.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firmai/firmsync/internal/connectivity"
	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/remote"
	"github.com/firmai/firmsync/internal/syncqueue"
)

// ErrOffline means the remote is unreachable, unconfigured or switched off.
// The local write has already succeeded when it is reported.
var ErrOffline = errors.New("storage: offline")

// Storage wires the local store, the optional remote client, the
// connectivity monitor and the queue. Build it once and share the pointer.
type Storage struct {
	local   *localstore.Store
	remote  *remote.Client
	monitor *connectivity.Monitor
	queue   *syncqueue.Queue
	logger  *slog.Logger
}

// New assembles a Storage. rc may be nil, in which case the system runs
// fully offline.
func New(
	local *localstore.Store,
	rc *remote.Client,
	monitor *connectivity.Monitor,
	queue *syncqueue.Queue,
	logger *slog.Logger,
) *Storage {
	if logger == nil {
		logger = slog.Default()
	}

	return &Storage{
		local:   local,
		remote:  rc,
		monitor: monitor,
		queue:   queue,
		logger:  logger,
	}
}

// IsOnline returns the cached connectivity status.
func (s *Storage) IsOnline() bool { return s.monitor.IsOnline() }

// CheckOnline probes the remote and caches the outcome.
func (s *Storage) CheckOnline(ctx context.Context) bool { return s.monitor.CheckOnline(ctx) }

// SetOnline overwrites the cached connectivity status.
func (s *Storage) SetOnline(online bool) { s.monitor.SetOnline(online) }

// Local returns the authoritative local store.
func (s *Storage) Local() *localstore.Store { return s.local }

// Remote returns the remote client, or false when none is configured.
func (s *Storage) Remote() (*remote.Client, bool) { return s.remote, s.remote != nil }

// Queue returns the deferred-mutation queue.
func (s *Storage) Queue() *syncqueue.Queue { return s.queue }

// Mutation is one domain write.
type Mutation struct {
	Op       syncqueue.Operation
	Table    localstore.Table
	RecordID string
	// Write applies the change locally. For inserts and updates the row
	// must exist when it returns.
	Write func(ctx context.Context, q localstore.Querier) error
}

// Result describes where a mutation ended up. The local write always
// succeeded when Apply returns a nil error.
type Result struct {
	RecordID string
	// Synced is true when the remote confirmed the write and the local row
	// was marked synced.
	Synced bool
	// Deferred is true when the remote copy is left to a later sync cycle.
	Deferred bool
	// Cause explains a deferral: ErrOffline or the remote error.
	Cause error
}

// Apply commits m locally, marks the row dirty, then mirrors it remotely
// if possible. Remote failures never roll back the local write: they are
// reported through Result.Cause with a nil error. A non-nil error means
// the local write itself failed.
func (s *Storage) Apply(ctx context.Context, m Mutation) (Result, error) {
	if !m.Op.Valid() {
		return Result{}, fmt.Errorf("storage: %s %s/%s: %w", m.Op, m.Table.Name, m.RecordID, syncqueue.ErrInvalidOperation)
	}

	row, err := localstore.Run(ctx, s.local, func(ctx context.Context, q localstore.Querier) (localstore.Row, error) {
		if err := m.Write(ctx, q); err != nil {
			return localstore.Row{}, err
		}

		if m.Op == syncqueue.OpDelete {
			return localstore.Row{ID: m.RecordID, Payload: map[string]any{"id": m.RecordID}}, nil
		}

		if _, err := localstore.MarkDirty(ctx, q, m.Table, m.RecordID); err != nil {
			return localstore.Row{}, err
		}

		return localstore.LoadRow(ctx, q, m.Table, m.RecordID)
	})
	if err != nil {
		return Result{}, fmt.Errorf("storage: local %s %s/%s: %w", m.Op, m.Table.Name, m.RecordID, err)
	}

	res := Result{RecordID: m.RecordID}

	if s.remote == nil || !s.monitor.IsOnline() {
		return s.deferRemote(ctx, m, row, res, ErrOffline)
	}

	if err := s.push(ctx, m, row); err != nil {
		if errors.Is(err, remote.ErrUnreachable) {
			s.monitor.SetOnline(false)
		}

		s.logger.Warn("remote write failed, deferring",
			slog.String("op", string(m.Op)),
			slog.String("table", m.Table.Name),
			slog.String("record_id", m.RecordID),
			slog.String("error", err.Error()),
		)

		return s.deferRemote(ctx, m, row, res, err)
	}

	if m.Op != syncqueue.OpDelete {
		ok, err := s.local.MarkSynced(ctx, m.Table, m.RecordID, row.Rev)
		if err != nil {
			return res, fmt.Errorf("storage: marking %s/%s synced: %w", m.Table.Name, m.RecordID, err)
		}

		// A concurrent local write bumped the revision; the sweep will
		// push the newer version.
		res.Synced = ok
		res.Deferred = !ok
	} else {
		res.Synced = true
	}

	return res, nil
}

// push mirrors one committed local write. Inserts and updates are upserts
// so a retry after a lost response does not conflict with itself.
func (s *Storage) push(ctx context.Context, m Mutation, row localstore.Row) error {
	var err error

	switch m.Op {
	case syncqueue.OpDelete:
		_, err = s.remote.Delete(m.Table.Name).Eq("id", m.RecordID).Execute(ctx)
	default:
		_, err = s.remote.Upsert(m.Table.Name, row.Payload, "id").Execute(ctx)
	}

	return err
}

// deferRemote records a mutation the remote has not confirmed. Inserts and
// updates are already dirty and need nothing more. A deleted row cannot be
// found by the sweep, so deletes go to the queue.
func (s *Storage) deferRemote(ctx context.Context, m Mutation, row localstore.Row, res Result, cause error) (Result, error) {
	res.Deferred = true
	res.Cause = cause

	if m.Op != syncqueue.OpDelete {
		return res, nil
	}

	if _, err := s.queue.Enqueue(ctx, syncqueue.OpDelete, m.Table.Name, m.RecordID, row.Payload); err != nil {
		return res, fmt.Errorf("storage: queueing delete %s/%s: %w", m.Table.Name, m.RecordID, err)
	}

	return res, nil
}
