package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrUnknownTable is returned for a table name with no descriptor.
var ErrUnknownTable = errors.New("localstore: unknown syncable table")

// Row is a syncable row projected to its remote payload.
type Row struct {
	ID string
	// Rev is the local_rev read alongside the payload. MarkSynced only
	// clears the dirty flag if the row still carries this revision.
	Rev     int64
	Payload map[string]any
}

func selectList(t Table) string {
	return strings.Join(t.ColumnNames(), ", ") + ", COALESCE(local_rev, 0)"
}

// scanRow reads one row laid out as selectList(t) and projects each column
// by its declared type.
func scanRow(t Table, scan func(dest ...any) error) (Row, error) {
	dest := make([]any, 0, len(t.Columns)+1)

	for _, c := range t.Columns {
		switch c.Type {
		case Integer:
			dest = append(dest, new(sql.NullInt64))
		case Real:
			dest = append(dest, new(sql.NullFloat64))
		default:
			dest = append(dest, new(sql.NullString))
		}
	}

	var rev int64
	dest = append(dest, &rev)

	if err := scan(dest...); err != nil {
		return Row{}, fmt.Errorf("localstore: scanning %s row: %w", t.Name, err)
	}

	row := Row{Rev: rev, Payload: make(map[string]any, len(t.Columns))}

	for i, c := range t.Columns {
		row.Payload[c.Name] = projectColumn(c, dest[i])
	}

	if id, ok := row.Payload["id"].(string); ok {
		row.ID = id
	}

	return row, nil
}

func projectColumn(c Column, holder any) any {
	switch v := holder.(type) {
	case *sql.NullInt64:
		if !v.Valid {
			return nil
		}

		return v.Int64
	case *sql.NullFloat64:
		if !v.Valid {
			return nil
		}

		return v.Float64
	case *sql.NullString:
		if !v.Valid {
			return nil
		}

		switch c.Type {
		case JSON:
			if json.Valid([]byte(v.String)) {
				return json.RawMessage(v.String)
			}

			// Legacy rows may hold plain text in a JSON column; send it as
			// a JSON string rather than invalid JSON.
			return v.String
		case Text:
			return norm.NFC.String(v.String)
		default:
			return v.String
		}
	default:
		return nil
	}
}

// DirtyRows returns up to limit rows of t flagged dirty=1, oldest rowid
// first.
func (s *Store) DirtyRows(ctx context.Context, t Table, limit int) ([]Row, error) {
	rows, _, err := s.DirtyRowsExcept(ctx, t, limit, nil)

	return rows, err
}

// DirtyRowsExcept is DirtyRows with rows whose id satisfies skip passed
// over. Skipped rows do not count toward limit, so a run of held-back rows
// cannot starve newer ones. It also returns how many rows were skipped
// before the limit was reached. A nil skip skips nothing.
func (s *Store) DirtyRowsExcept(ctx context.Context, t Table, limit int, skip func(id string) bool) ([]Row, int, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE dirty = 1 ORDER BY rowid", selectList(t), t.Name)

	type result struct {
		rows    []Row
		skipped int
	}

	res, err := Read(ctx, s, func(ctx context.Context, q Querier) (result, error) {
		var out result

		if limit <= 0 {
			return out, nil
		}

		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return out, fmt.Errorf("localstore: listing dirty %s rows: %w", t.Name, err)
		}
		defer rows.Close()

		for len(out.rows) < limit && rows.Next() {
			r, err := scanRow(t, rows.Scan)
			if err != nil {
				return out, err
			}

			if skip != nil && skip(r.ID) {
				out.skipped++
				continue
			}

			out.rows = append(out.rows, r)
		}

		if err := rows.Err(); err != nil {
			return out, fmt.Errorf("localstore: iterating dirty %s rows: %w", t.Name, err)
		}

		return out, nil
	})
	if err != nil {
		return nil, 0, err
	}

	return res.rows, res.skipped, nil
}

// LoadRow reads one row of t by id inside an existing unit of work. It
// returns sql.ErrNoRows (wrapped) when the row does not exist.
func LoadRow(ctx context.Context, q Querier, t Table, id string) (Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectList(t), t.Name)

	return scanRow(t, q.QueryRowContext(ctx, query, id).Scan)
}

// MarkDirty flags a row as having unconfirmed local changes and bumps its
// revision. It must run in the same unit of work as the write it records.
func MarkDirty(ctx context.Context, q Querier, t Table, id string) (int64, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET dirty = 1, synced = 0, local_rev = COALESCE(local_rev, 0) + 1 WHERE id = ? RETURNING local_rev",
		t.Name,
	)

	var rev int64
	if err := q.QueryRowContext(ctx, query, id).Scan(&rev); err != nil {
		return 0, fmt.Errorf("localstore: marking %s/%s dirty: %w", t.Name, id, err)
	}

	return rev, nil
}

// MarkSynced records that the remote copy of a row matches revision rev.
// It reports false, leaving the row dirty, when the row was rewritten or
// deleted after rev was read.
func (s *Store) MarkSynced(ctx context.Context, t Table, id string, rev int64) (bool, error) {
	query := fmt.Sprintf(
		"UPDATE %s SET synced = 1, dirty = 0 WHERE id = ? AND COALESCE(local_rev, 0) = ?",
		t.Name,
	)

	return Run(ctx, s, func(ctx context.Context, q Querier) (bool, error) {
		res, err := q.ExecContext(ctx, query, id, rev)
		if err != nil {
			return false, fmt.Errorf("localstore: marking %s/%s synced: %w", t.Name, id, err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("localstore: marking %s/%s synced: %w", t.Name, id, err)
		}

		return n == 1, nil
	})
}

// SyncFlags returns the synced and dirty flags of one row.
func (s *Store) SyncFlags(ctx context.Context, t Table, id string) (synced, dirty bool, err error) {
	query := fmt.Sprintf("SELECT COALESCE(synced, 0), COALESCE(dirty, 0) FROM %s WHERE id = ?", t.Name)

	err = s.View(ctx, func(ctx context.Context, q Querier) error {
		return q.QueryRowContext(ctx, query, id).Scan(&synced, &dirty)
	})

	return synced, dirty, err
}

// DirtyCounts returns the number of dirty rows per syncable table.
func (s *Store) DirtyCounts(ctx context.Context) (map[string]int, error) {
	return Read(ctx, s, func(ctx context.Context, q Querier) (map[string]int, error) {
		counts := make(map[string]int, len(Tables))

		for _, t := range Tables {
			var n int

			query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE dirty = 1", t.Name)
			if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
				return nil, fmt.Errorf("localstore: counting dirty %s rows: %w", t.Name, err)
			}

			counts[t.Name] = n
		}

		return counts, nil
	})
}
