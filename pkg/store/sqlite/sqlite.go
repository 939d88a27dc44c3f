// Package sqlite implements store.InvocationStore on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jxucoder/bedrockcall/pkg/model"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

// Store manages invocation and event persistence in SQLite.
type Store struct {
	db *sql.DB
}

var _ store.InvocationStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS invocations (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL DEFAULT '',
			prompt     TEXT NOT NULL,
			model_id   TEXT NOT NULL DEFAULT '',
			max_tokens INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL DEFAULT 'pending',
			texts      TEXT NOT NULL DEFAULT '[]',
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS invocation_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT NOT NULL,
			type          TEXT NOT NULL,
			data          TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (invocation_id) REFERENCES invocations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_invocation_id
			ON invocation_events(invocation_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateInvocation inserts a new invocation.
func (s *Store) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	if inv.Status == "" {
		inv.Status = model.StatusPending
	}
	texts, err := encodeTexts(inv.Texts)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, source, prompt, model_id, max_tokens, status, texts, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Source, inv.Prompt, inv.ModelID, inv.MaxTokens, inv.Status,
		texts, inv.Error, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

// GetInvocation retrieves an invocation by ID.
func (s *Store) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, prompt, model_id, max_tokens, status, texts, error, created_at, updated_at
		 FROM invocations WHERE id = ?`, id,
	)
	inv, err := scanInvocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return inv, err
}

// ListInvocations returns invocations ordered by creation time (newest first).
func (s *Store) ListInvocations(ctx context.Context, limit int) ([]*model.Invocation, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, prompt, model_id, max_tokens, status, texts, error, created_at, updated_at
		 FROM invocations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invs []*model.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// UpdateInvocation updates the mutable fields of an invocation.
func (s *Store) UpdateInvocation(ctx context.Context, inv *model.Invocation) error {
	inv.UpdatedAt = time.Now().UTC()
	texts, err := encodeTexts(inv.Texts)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE invocations SET status = ?, texts = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		inv.Status, texts, inv.Error, inv.UpdatedAt, inv.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(ctx context.Context, event *model.Event) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO invocation_events (invocation_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.InvocationID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for an invocation, optionally after a given event ID.
func (s *Store) GetEvents(ctx context.Context, invocationID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invocation_id, type, data, created_at
		 FROM invocation_events
		 WHERE invocation_id = ? AND id > ?
		 ORDER BY id ASC`,
		invocationID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.InvocationID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanInvocation(row scannable) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var texts string
	err := row.Scan(
		&inv.ID, &inv.Source, &inv.Prompt, &inv.ModelID, &inv.MaxTokens,
		&inv.Status, &texts, &inv.Error, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(texts), &inv.Texts); err != nil {
		return nil, fmt.Errorf("decoding texts for %s: %w", inv.ID, err)
	}
	return inv, nil
}

func encodeTexts(texts []string) (string, error) {
	if texts == nil {
		texts = []string{}
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return "", fmt.Errorf("encoding texts: %w", err)
	}
	return string(data), nil
}
