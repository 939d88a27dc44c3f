// Package postgres implements store.InvocationStore on PostgreSQL for
// deployments that share history between hosts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jxucoder/bedrockcall/pkg/model"
	"github.com/jxucoder/bedrockcall/pkg/store"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Store manages invocation and event persistence in PostgreSQL.
type Store struct {
	db DB
}

var _ store.InvocationStore = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS invocations (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL DEFAULT '',
	prompt     TEXT NOT NULL,
	model_id   TEXT NOT NULL DEFAULT '',
	max_tokens INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL DEFAULT 'pending',
	texts      TEXT[] NOT NULL DEFAULT '{}',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS invocation_events (
	id            BIGSERIAL PRIMARY KEY,
	invocation_id TEXT NOT NULL REFERENCES invocations(id),
	type          TEXT NOT NULL,
	data          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_events_invocation_id
	ON invocation_events(invocation_id);
`

const selectInvocation = `SELECT id, source, prompt, model_id, max_tokens, status, texts, error, created_at, updated_at FROM invocations`

// Open connects to databaseURL and runs migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool. It does not run migrations.
func New(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// CreateInvocation inserts a new invocation.
func (s *Store) CreateInvocation(ctx context.Context, inv *model.Invocation) error {
	if inv.Status == "" {
		inv.Status = model.StatusPending
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO invocations (id, source, prompt, model_id, max_tokens, status, texts, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		inv.ID, inv.Source, inv.Prompt, inv.ModelID, inv.MaxTokens, string(inv.Status),
		nonNil(inv.Texts), inv.Error, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

// GetInvocation retrieves an invocation by ID.
func (s *Store) GetInvocation(ctx context.Context, id string) (*model.Invocation, error) {
	inv, err := scanInvocation(s.db.QueryRow(ctx, selectInvocation+" WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return inv, err
}

// ListInvocations returns invocations ordered by creation time (newest first).
func (s *Store) ListInvocations(ctx context.Context, limit int) ([]*model.Invocation, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.Query(ctx, selectInvocation+" ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		rows, err = s.db.Query(ctx, selectInvocation+" ORDER BY created_at DESC")
	}
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
	tag, err := s.db.Exec(ctx,
		`UPDATE invocations SET status = $1, texts = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(inv.Status), nonNil(inv.Texts), inv.Error, inv.UpdatedAt, inv.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(ctx context.Context, event *model.Event) error {
	return s.db.QueryRow(ctx,
		`INSERT INTO invocation_events (invocation_id, type, data, created_at)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		event.InvocationID, event.Type, event.Data, event.CreatedAt,
	).Scan(&event.ID)
}

// GetEvents returns events for an invocation, optionally after a given event ID.
func (s *Store) GetEvents(ctx context.Context, invocationID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, invocation_id, type, data, created_at
		 FROM invocation_events
		 WHERE invocation_id = $1 AND id > $2
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

func scanInvocation(row pgx.Row) (*model.Invocation, error) {
	inv := &model.Invocation{}
	var status string
	err := row.Scan(
		&inv.ID, &inv.Source, &inv.Prompt, &inv.ModelID, &inv.MaxTokens,
		&status, &inv.Texts, &inv.Error, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = model.Status(status)
	inv.Texts = nonNil(inv.Texts)
	return inv, nil
}

func nonNil(texts []string) []string {
	if texts == nil {
		return []string{}
	}
	return texts
}
