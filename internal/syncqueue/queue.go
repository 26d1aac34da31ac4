// Package syncqueue is the durable, at-least-once log of deferred remote
// mutations, stored in the sync_queue table. Entries are removed only after
// the remote confirms them. A failed entry backs off exponentially and is
// retired once it has failed MaxAttempts times.
package syncqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/firmai/firmsync/internal/localstore"
)

const (
	// MaxAttempts is the attempt cap. Entries at or above it are never
	// returned by DequeueBatch again.
	MaxAttempts = 5
	// BatchSize bounds one drain.
	BatchSize = 50

	baseBackoff = 30 * time.Second
	maxBackoff  = 15 * time.Minute
)

var (
	// ErrQueueExhausted marks an entry that reached MaxAttempts. It stays in
	// the table until requeued.
	ErrQueueExhausted = errors.New("syncqueue: entry exhausted its attempts")
	// ErrNotFound is returned for an unknown entry id.
	ErrNotFound = errors.New("syncqueue: entry not found")
	// ErrInvalidOperation is returned for an unknown operation type.
	ErrInvalidOperation = errors.New("syncqueue: invalid operation")
)

// Operation is the remote call a queue entry replays.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpInsert, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// Entry is one deferred mutation.
type Entry struct {
	ID            int64           `json:"id"`
	Operation     Operation       `json:"operation_type"`
	Table         string          `json:"table_name"`
	RecordID      string          `json:"record_id"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// Exhausted reports whether the entry reached the attempt cap.
func (e Entry) Exhausted() bool { return e.Attempts >= MaxAttempts }

const (
	sqlEnqueue = `INSERT INTO sync_queue
		(operation_type, table_name, record_id, data, created_at, attempts, next_attempt_at)
		VALUES (?, ?, ?, ?, ?, 0, 0)`

	entryColumns = `id, operation_type, table_name, record_id, data, created_at,
		attempts, COALESCE(next_attempt_at, 0), COALESCE(last_error, '')`

	sqlDequeue = `SELECT ` + entryColumns + ` FROM sync_queue
		WHERE attempts < ? AND COALESCE(next_attempt_at, 0) <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`

	sqlListAll = `SELECT ` + entryColumns + ` FROM sync_queue ORDER BY created_at ASC, id ASC`

	sqlListExhausted = `SELECT ` + entryColumns + ` FROM sync_queue
		WHERE attempts >= ? ORDER BY created_at ASC, id ASC`

	sqlRemove = `DELETE FROM sync_queue WHERE id = ?`

	sqlIncrement = `UPDATE sync_queue
		SET attempts = attempts + 1, last_error = ?
		WHERE id = ?
		RETURNING attempts`

	sqlSetNextAttempt = `UPDATE sync_queue SET next_attempt_at = ? WHERE id = ?`

	sqlPendingCount = `SELECT COUNT(*) FROM sync_queue WHERE attempts < ?`

	sqlRequeue = `UPDATE sync_queue SET attempts = 0, next_attempt_at = 0, last_error = NULL WHERE id = ?`
)

// Queue is safe for concurrent use; all state lives in the store.
type Queue struct {
	store   *localstore.Store
	logger  *slog.Logger
	nowFunc func() time.Time // injectable for deterministic tests
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now as the source of creation and due times.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.nowFunc = now }
}

// New creates a queue over store.
func New(store *localstore.Store, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{store: store, logger: logger, nowFunc: time.Now}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Enqueue appends a mutation with attempts=0, immediately due. payload is
// JSON-encoded unless it is already a json.RawMessage.
func (q *Queue) Enqueue(ctx context.Context, op Operation, table, recordID string, payload any) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOperation, op)
	}

	data, err := encodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("syncqueue: encoding %s payload for %s/%s: %w", op, table, recordID, err)
	}

	now := q.nowFunc().UnixNano()

	id, err := localstore.Run(ctx, q.store, func(ctx context.Context, db localstore.Querier) (int64, error) {
		res, err := db.ExecContext(ctx, sqlEnqueue, string(op), table, recordID, string(data), now)
		if err != nil {
			return 0, err
		}

		return res.LastInsertId()
	})
	if err != nil {
		return 0, fmt.Errorf("syncqueue: enqueue %s %s/%s: %w", op, table, recordID, err)
	}

	q.logger.Debug("queued mutation",
		slog.Int64("entry_id", id),
		slog.String("op", string(op)),
		slog.String("table", table),
		slog.String("record_id", recordID),
	)

	return id, nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}

		return p, nil
	default:
		return json.Marshal(p)
	}
}

// DequeueBatch returns up to limit due entries under the attempt cap,
// oldest first. It does not lock or remove them. limit <= 0 means
// BatchSize.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > BatchSize {
		limit = BatchSize
	}

	now := q.nowFunc().UnixNano()

	entries, err := q.list(ctx, sqlDequeue, MaxAttempts, now, limit)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: dequeue: %w", err)
	}

	return entries, nil
}

// Remove deletes an entry after its remote call succeeded.
func (q *Queue) Remove(ctx context.Context, id int64) error {
	err := q.store.Update(ctx, func(ctx context.Context, db localstore.Querier) error {
		_, err := db.ExecContext(ctx, sqlRemove, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("syncqueue: remove %d: %w", id, err)
	}

	return nil
}

// IncrementAttempts records one failed attempt and returns the new count.
// The entry becomes due again after an exponential backoff keyed by the
// count. Reaching MaxAttempts retires it.
func (q *Queue) IncrementAttempts(ctx context.Context, id int64, cause error) (int, error) {
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	now := q.nowFunc()

	attempts, err := localstore.Run(ctx, q.store, func(ctx context.Context, db localstore.Querier) (int, error) {
		var n int
		if err := db.QueryRowContext(ctx, sqlIncrement, lastErr, id).Scan(&n); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, ErrNotFound
			}

			return 0, err
		}

		next := now.Add(Backoff(n)).UnixNano()
		if _, err := db.ExecContext(ctx, sqlSetNextAttempt, next, id); err != nil {
			return 0, err
		}

		return n, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("syncqueue: increment %d: %w", id, ErrNotFound)
		}

		return 0, fmt.Errorf("syncqueue: increment %d: %w", id, err)
	}

	if attempts >= MaxAttempts {
		q.logger.Warn("queue entry exhausted",
			slog.Int64("entry_id", id),
			slog.Int("attempts", attempts),
			slog.String("last_error", lastErr),
			slog.String("error", ErrQueueExhausted.Error()),
		)
	}

	return attempts, nil
}

// Backoff returns the delay before an entry that has failed attempts times
// is due again: 30s doubling per attempt, capped at 15m.
func Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}

	b := retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseBackoff))

	var d time.Duration
	for range attempts {
		d, _ = b.Next()
	}

	return d
}

// PendingCount counts entries under the attempt cap, whether or not they
// are currently due.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	n, err := localstore.Read(ctx, q.store, func(ctx context.Context, db localstore.Querier) (int, error) {
		var n int
		err := db.QueryRowContext(ctx, sqlPendingCount, MaxAttempts).Scan(&n)

		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("syncqueue: counting pending: %w", err)
	}

	return n, nil
}

// List returns every entry, exhausted or not, oldest first.
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	entries, err := q.list(ctx, sqlListAll)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: list: %w", err)
	}

	return entries, nil
}

// ListExhausted returns the entries retired at the attempt cap.
func (q *Queue) ListExhausted(ctx context.Context) ([]Entry, error) {
	entries, err := q.list(ctx, sqlListExhausted, MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("syncqueue: list exhausted: %w", err)
	}

	return entries, nil
}

// Requeue resets an entry to attempts=0 and makes it due immediately.
func (q *Queue) Requeue(ctx context.Context, id int64) error {
	err := q.store.Update(ctx, func(ctx context.Context, db localstore.Querier) error {
		res, err := db.ExecContext(ctx, sqlRequeue, id)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		if n == 0 {
			return ErrNotFound
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("syncqueue: requeue %d: %w", id, ErrNotFound)
		}

		return fmt.Errorf("syncqueue: requeue %d: %w", id, err)
	}

	q.logger.Info("queue entry requeued", slog.Int64("entry_id", id))

	return nil
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	return localstore.Read(ctx, q.store, func(ctx context.Context, db localstore.Querier) ([]Entry, error) {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []Entry

		for rows.Next() {
			var (
				e         Entry
				op        string
				data      string
				createdAt int64
				nextAt    int64
			)

			if err := rows.Scan(&e.ID, &op, &e.Table, &e.RecordID, &data, &createdAt,
				&e.Attempts, &nextAt, &e.LastError); err != nil {
				return nil, err
			}

			e.Operation = Operation(op)
			e.Data = json.RawMessage(data)
			e.CreatedAt = time.Unix(0, createdAt)

			if nextAt > 0 {
				e.NextAttemptAt = time.Unix(0, nextAt)
			}

			out = append(out, e)
		}

		return out, rows.Err()
	})
}
