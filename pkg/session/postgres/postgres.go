// Package postgres provides a PostgreSQL-backed session store.
//
// Each conversation is one row in the conversations table with history and
// slots stored as JSONB. Per-conversation exclusion uses row locks:
// WithLock opens a transaction, takes SELECT ... FOR UPDATE on the row, and
// commits the rewritten state, so concurrent turns on one id queue on the
// database rather than in the process. Use it when sessions must survive
// agent restarts.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// Compile-time assertion that Store implements session.Store.
var _ session.Store = (*Store)(nil)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id                TEXT         PRIMARY KEY,
    driver_id         TEXT         NOT NULL DEFAULT '',
    language          TEXT         NOT NULL DEFAULT 'en',
    current_intent    TEXT         NOT NULL DEFAULT '',
    slots             JSONB        NOT NULL DEFAULT '{}',
    status            TEXT         NOT NULL DEFAULT 'active',
    end_reason        TEXT         NOT NULL DEFAULT '',
    history           JSONB        NOT NULL DEFAULT '[]',
    retry_count       INT          NOT NULL DEFAULT 0,
    no_response_count INT          NOT NULL DEFAULT 0,
    dropped_chunks    INT          NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_activity     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_status_activity
    ON conversations (status, last_activity);
`

// Store is a PostgreSQL session.Store. Safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, verifies the connection, and runs Migrate.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres session: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres session: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres session: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the conversations table if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	return nil
}

// GetOrCreate implements session.Store. Absent ids yield a fresh active
// state; it is not persisted until Save or a committed WithLock.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*dialog.State, error) {
	if id == "" {
		return nil, dialog.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, selectState+" WHERE id = $1", id)
	st, err := scanState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dialog.NewState(id, dialog.LanguageEN, time.Now()), nil
		}
		return nil, fmt.Errorf("postgres session: get %q: %w", id, err)
	}
	return st, nil
}

// Save implements session.Store via an upsert on the conversation id.
func (s *Store) Save(ctx context.Context, st *dialog.State) error {
	if st == nil || st.ID == "" {
		return dialog.ErrInvalidInput
	}
	args, err := stateArgs(st)
	if err != nil {
		return fmt.Errorf("postgres session: save %q: %w", st.ID, err)
	}
	if _, err := s.pool.Exec(ctx, upsertState, args...); err != nil {
		return fmt.Errorf("postgres session: save %q: %w", st.ID, err)
	}
	return nil
}

// WithLock implements session.Store. The row lock serializes turns for one
// id; fn's error rolls the transaction back so nothing commits.
func (s *Store) WithLock(ctx context.Context, id string, fn func(*dialog.State) error) error {
	if id == "" {
		return dialog.ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres session: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	// The row must exist before FOR UPDATE can pin it.
	const ensure = `
		INSERT INTO conversations (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`
	if _, err := tx.Exec(ctx, ensure, id); err != nil {
		return fmt.Errorf("postgres session: ensure row %q: %w", id, err)
	}

	row := tx.QueryRow(ctx, selectState+" WHERE id = $1 FOR UPDATE", id)
	st, err := scanState(row)
	if err != nil {
		return fmt.Errorf("postgres session: lock %q: %w", id, err)
	}

	if err := fn(st); err != nil {
		return err
	}

	args, err := stateArgs(st)
	if err != nil {
		return fmt.Errorf("postgres session: commit %q: %w", id, err)
	}
	if _, err := tx.Exec(ctx, upsertState, args...); err != nil {
		return fmt.Errorf("postgres session: commit %q: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres session: commit %q: %w", id, err)
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dialog.ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres session: delete %q: %w", id, err)
	}
	return nil
}

// Len implements session.Store.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres session: count: %w", err)
	}
	return n, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres session: ping: %w", err)
	}
	return nil
}

// Close implements session.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// ── row mapping ──────────────────────────────────────────────────────────

const selectState = `
	SELECT id, driver_id, language, current_intent, slots, status,
	       end_reason, history, retry_count, no_response_count,
	       dropped_chunks, created_at, last_activity
	FROM   conversations`

const upsertState = `
	INSERT INTO conversations
	    (id, driver_id, language, current_intent, slots, status, end_reason,
	     history, retry_count, no_response_count, dropped_chunks,
	     created_at, last_activity)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
	    driver_id         = EXCLUDED.driver_id,
	    language          = EXCLUDED.language,
	    current_intent    = EXCLUDED.current_intent,
	    slots             = EXCLUDED.slots,
	    status            = EXCLUDED.status,
	    end_reason        = EXCLUDED.end_reason,
	    history           = EXCLUDED.history,
	    retry_count       = EXCLUDED.retry_count,
	    no_response_count = EXCLUDED.no_response_count,
	    dropped_chunks    = EXCLUDED.dropped_chunks,
	    created_at        = EXCLUDED.created_at,
	    last_activity     = EXCLUDED.last_activity`

// scanState maps one row onto a State, decoding the JSONB columns.
func scanState(row pgx.Row) (*dialog.State, error) {
	var (
		st           dialog.State
		lang, intent string
		slotsJSON    []byte
		historyJSON  []byte
	)
	err := row.Scan(
		&st.ID,
		&st.DriverID,
		&lang,
		&intent,
		&slotsJSON,
		&st.Status,
		&st.EndReason,
		&historyJSON,
		&st.RetryCount,
		&st.NoResponseCount,
		&st.DroppedChunks,
		&st.CreatedAt,
		&st.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	st.Language = dialog.ParseLanguage(lang)
	st.CurrentIntent = dialog.Intent(intent)
	if err := json.Unmarshal(slotsJSON, &st.Slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	if err := json.Unmarshal(historyJSON, &st.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if st.Slots == nil {
		st.Slots = make(map[string]string)
	}
	return &st, nil
}

// stateArgs builds the upsert parameter list, encoding the JSONB columns.
func stateArgs(st *dialog.State) ([]any, error) {
	slots := st.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("encode slots: %w", err)
	}
	history := st.History
	if history == nil {
		history = []dialog.Turn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return []any{
		st.ID,
		st.DriverID,
		st.Language.String(),
		string(st.CurrentIntent),
		slotsJSON,
		string(st.Status),
		st.EndReason,
		historyJSON,
		st.RetryCount,
		st.NoResponseCount,
		st.DroppedChunks,
		st.CreatedAt,
		st.LastActivity,
	}, nil
}
