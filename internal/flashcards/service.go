// Package flashcards manages flashcard sets and their cards. Writes go
// through the hybrid store, so they succeed offline and sync later.
package flashcards

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/firmai/firmsync/internal/localstore"
	"github.com/firmai/firmsync/internal/storage"
	"github.com/firmai/firmsync/internal/syncqueue"
)

var (
	ErrNotFound = errors.New("flashcards: not found")
	ErrInvalid  = errors.New("flashcards: invalid input")
)

// Set is a named collection of flashcards owned by one user.
type Set struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Synced      bool   `json:"synced"`
}

// Flashcard is one question/answer pair.
type Flashcard struct {
	ID        string `json:"id"`
	SetID     string `json:"set_id"`
	Front     string `json:"front"`
	Back      string `json:"back"`
	CreatedAt string `json:"created_at"`
	Synced    bool   `json:"synced"`
}

// Service is safe for concurrent use.
type Service struct {
	storage *storage.Storage
	nowFunc func() time.Time
	newID   func() string
}

// NewService creates a service over st.
func NewService(st *storage.Storage) *Service {
	return &Service{
		storage: st,
		nowFunc: time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

func (s *Service) timestamp() string {
	return s.nowFunc().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}

	return v
}

// CreateSet stores a new set locally and mirrors it when online.
func (s *Service) CreateSet(ctx context.Context, userID, title, description string) (Set, storage.Result, error) {
	title = strings.TrimSpace(title)
	if userID == "" || title == "" {
		return Set{}, storage.Result{}, fmt.Errorf("%w: user and title are required", ErrInvalid)
	}

	now := s.timestamp()
	set := Set{
		ID:          s.newID(),
		UserID:      userID,
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.storage.Apply(ctx, storage.Mutation{
		Op:       syncqueue.OpInsert,
		Table:    localstore.FlashcardSetsTable,
		RecordID: set.ID,
		Write: func(ctx context.Context, q localstore.Querier) error {
			_, err := q.ExecContext(ctx,
				`INSERT INTO flashcard_sets (id, user_id, title, description, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				set.ID, set.UserID, set.Title, nullable(set.Description), set.CreatedAt, set.UpdatedAt)

			return err
		},
	})
	if err != nil {
		return Set{}, res, fmt.Errorf("flashcards: create set: %w", err)
	}

	set.Synced = res.Synced

	return set, res, nil
}

// UpdateSet changes a set's title and description.
func (s *Service) UpdateSet(ctx context.Context, id, title, description string) (storage.Result, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return storage.Result{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}

	now := s.timestamp()

	res, err := s.storage.Apply(ctx, storage.Mutation{
		Op:       syncqueue.OpUpdate,
		Table:    localstore.FlashcardSetsTable,
		RecordID: id,
		Write: func(ctx context.Context, q localstore.Querier) error {
			r, err := q.ExecContext(ctx,
				`UPDATE flashcard_sets SET title = ?, description = ?, updated_at = ? WHERE id = ?`,
				title, nullable(description), now, id)
			if err != nil {
				return err
			}

			return requireRow(r)
		},
	})
	if err != nil {
		return res, wrapNotFound("update set", err)
	}

	return res, nil
}

// DeleteSet removes a set and, through the cascade, its cards.
func (s *Service) DeleteSet(ctx context.Context, id string) (storage.Result, error) {
	res, err := s.storage.Apply(ctx, storage.Mutation{
		Op:       syncqueue.OpDelete,
		Table:    localstore.FlashcardSetsTable,
		RecordID: id,
		Write: func(ctx context.Context, q localstore.Querier) error {
			r, err := q.ExecContext(ctx, `DELETE FROM flashcard_sets WHERE id = ?`, id)
			if err != nil {
				return err
			}

			return requireRow(r)
		},
	})
	if err != nil {
		return res, wrapNotFound("delete set", err)
	}

	return res, nil
}

// AddFlashcard appends a card to an existing set.
func (s *Service) AddFlashcard(ctx context.Context, setID, front, back string) (Flashcard, storage.Result, error) {
	front, back = strings.TrimSpace(front), strings.TrimSpace(back)
	if front == "" || back == "" {
		return Flashcard{}, storage.Result{}, fmt.Errorf("%w: front and back are required", ErrInvalid)
	}

	card := Flashcard{
		ID:        s.newID(),
		SetID:     setID,
		Front:     front,
		Back:      back,
		CreatedAt: s.timestamp(),
	}

	res, err := s.storage.Apply(ctx, storage.Mutation{
		Op:       syncqueue.OpInsert,
		Table:    localstore.FlashcardsTable,
		RecordID: card.ID,
		Write: func(ctx context.Context, q localstore.Querier) error {
			var exists int
			if err := q.QueryRowContext(ctx, `SELECT 1 FROM flashcard_sets WHERE id = ?`, setID).Scan(&exists); err != nil {
				return err
			}

			_, err := q.ExecContext(ctx,
				`INSERT INTO flashcards (id, set_id, front, back, created_at) VALUES (?, ?, ?, ?, ?)`,
				card.ID, card.SetID, card.Front, card.Back, card.CreatedAt)

			return err
		},
	})
	if err != nil {
		return Flashcard{}, res, wrapNotFound("add flashcard", err)
	}

	card.Synced = res.Synced

	return card, res, nil
}

// ListSets returns a user's sets from the local store, newest first.
func (s *Service) ListSets(ctx context.Context, userID string) ([]Set, error) {
	sets, err := localstore.Read(ctx, s.storage.Local(), func(ctx context.Context, q localstore.Querier) ([]Set, error) {
		rows, err := q.QueryContext(ctx,
			`SELECT id, user_id, title, COALESCE(description, ''), created_at, updated_at, COALESCE(synced, 0)
			 FROM flashcard_sets WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []Set

		for rows.Next() {
			var set Set
			if err := rows.Scan(&set.ID, &set.UserID, &set.Title, &set.Description,
				&set.CreatedAt, &set.UpdatedAt, &set.Synced); err != nil {
				return nil, err
			}

			out = append(out, set)
		}

		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("flashcards: list sets: %w", err)
	}

	return sets, nil
}

// ListFlashcards returns the cards of a set in creation order.
func (s *Service) ListFlashcards(ctx context.Context, setID string) ([]Flashcard, error) {
	cards, err := localstore.Read(ctx, s.storage.Local(), func(ctx context.Context, q localstore.Querier) ([]Flashcard, error) {
		rows, err := q.QueryContext(ctx,
			`SELECT id, set_id, front, back, created_at, COALESCE(synced, 0)
			 FROM flashcards WHERE set_id = ? ORDER BY created_at, id`, setID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []Flashcard

		for rows.Next() {
			var c Flashcard
			if err := rows.Scan(&c.ID, &c.SetID, &c.Front, &c.Back, &c.CreatedAt, &c.Synced); err != nil {
				return nil, err
			}

			out = append(out, c)
		}

		return out, rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("flashcards: list cards: %w", err)
	}

	return cards, nil
}

func requireRow(r sql.Result) error {
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// wrapNotFound reports a missing row as ErrNotFound rather than a store
// failure.
func wrapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("flashcards: %s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("flashcards: %s: %w", op, err)
}
