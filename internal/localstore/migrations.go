package localstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var schemaFS embed.FS

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	sub, err := fs.Sub(schemaFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("localstore: opening embedded schema: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return nil, fmt.Errorf("localstore: creating migration provider: %w", err)
	}

	return provider, nil
}

// migrate brings the schema to the latest version. Every statement in the
// initial migration is create-if-missing, so databases created before
// version tracking existed are adopted without error.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return 0, err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("localstore: applying schema: %w", err)
	}

	for _, r := range results {
		logger.Info("applied schema migration",
			slog.Int64("version", r.Source.Version),
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("localstore: reading schema version: %w", err)
	}

	if len(results) == 0 {
		logger.Debug("schema up to date", slog.Int64("version", version))
	}

	return version, nil
}
