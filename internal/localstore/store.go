// Package localstore is the embedded SQLite database that holds every domain
// table plus the sync_queue. It is authoritative: a write committed here
// counts as saved regardless of what happens to the remote copy.
//
// Writes go through a single connection so at most one unit of work mutates
// the database at a time. Reads use a separate small pool and may run
// concurrently with the writer (WAL mode).
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// ErrStore marks a failure of the underlying database. It is fatal to the
// current unit of work and is never retried automatically.
var ErrStore = errors.New("localstore: database failure")

// MemoryPath opens a private in-memory database. Readers share the writer
// connection because each in-memory connection is its own database.
const MemoryPath = ":memory:"

const defaultReadConnections = 4

// Querier is the statement surface shared by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options tunes Open. The zero value is usable.
type Options struct {
	// ReadConnections bounds the reader pool. Zero means 4.
	ReadConnections int
	Logger          *slog.Logger
}

// Store owns the database handles. It is safe for concurrent use and is
// shared by pointer; copies must never be made.
type Store struct {
	path    string
	writer  *sql.DB
	reader  *sql.DB
	version int64
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. Calling it on every startup is safe.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	readConns := opts.ReadConnections
	if readConns <= 0 {
		readConns = defaultReadConnections
	}

	writer, err := sql.Open("sqlite", writerDSN(path))
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrStore, path, err)
	}

	// Sole-writer pattern: one connection, so units of work serialize.
	writer.SetMaxOpenConns(1)

	version, err := migrate(ctx, writer, logger)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("%w: %w", ErrStore, err)
	}

	reader := writer
	if path != MemoryPath {
		reader, err = sql.Open("sqlite", readerDSN(path))
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("%w: opening reader pool for %s: %w", ErrStore, path, err)
		}

		reader.SetMaxOpenConns(readConns)
		reader.SetMaxIdleConns(readConns)
	}

	logger.Info("local store opened",
		slog.String("db_path", path),
		slog.Int64("schema_version", version),
		slog.Int("read_connections", readConns),
	)

	return &Store{
		path:    path,
		writer:  writer,
		reader:  reader,
		version: version,
		logger:  logger,
	}, nil
}

// DSN parameters apply the pragmas to every connection in the pool.
func writerDSN(path string) string {
	if path == MemoryPath {
		return "file::memory:?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	return fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		path,
	)
}

func readerDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=query_only(1)",
		path,
	)
}

// Path returns the database location the store was opened with.
func (s *Store) Path() string { return s.path }

// SchemaVersion returns the migration version applied at Open.
func (s *Store) SchemaVersion() int64 { return s.version }

// Close releases both pools.
func (s *Store) Close() error {
	var errs []error
	if s.reader != s.writer {
		errs = append(errs, s.reader.Close())
	}

	errs = append(errs, s.writer.Close())

	return errors.Join(errs...)
}

// Update runs fn inside a write transaction on the single writer
// connection. The transaction commits when fn returns nil and rolls back
// otherwise. fn must not call Update or View on the same Store.
func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(ctx, "beginning transaction", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", slog.String("error", rbErr.Error()))
		}

		return s.wrap(ctx, "unit of work", err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap(ctx, "committing transaction", err)
	}

	return nil
}

// View runs fn against the reader pool. Reads may run concurrently with
// each other and with the writer.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if err := fn(ctx, s.reader); err != nil {
		return s.wrap(ctx, "read", err)
	}

	return nil
}

// Run executes a write unit of work and returns its typed result.
func Run[T any](ctx context.Context, s *Store, fn func(ctx context.Context, q Querier) (T, error)) (T, error) {
	var out T

	err := s.Update(ctx, func(ctx context.Context, q Querier) error {
		v, err := fn(ctx, q)
		if err != nil {
			return err
		}

		out = v

		return nil
	})

	return out, err
}

// Read executes a read-only unit of work and returns its typed result.
func Read[T any](ctx context.Context, s *Store, fn func(ctx context.Context, q Querier) (T, error)) (T, error) {
	var out T

	err := s.View(ctx, func(ctx context.Context, q Querier) error {
		v, err := fn(ctx, q)
		if err != nil {
			return err
		}

		out = v

		return nil
	})

	return out, err
}

// wrap tags err as a store failure unless the caller's context ended, in
// which case the context error is what the caller needs to see. Errors
// already tagged pass through unchanged.
func (s *Store) wrap(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("localstore: %s: %w", op, ctxErr)
	}

	if errors.Is(err, ErrStore) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
