package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/parley/internal/conversation"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directories exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// DB exposes the handle so the memory store can share the same file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			summarized_through INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
			thread_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, position),
			FOREIGN KEY(thread_id) REFERENCES threads(id)
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return value, nil
}

// Thread Implementation

func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.ID == "" || thread.UserID == "" {
		return errors.New("thread id and user id are required")
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	thread.UpdatedAt = thread.CreatedAt

	query := `INSERT INTO threads (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, thread.ID, thread.UserID, thread.CreatedAt.UnixNano(), thread.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to create thread %s: %w", thread.ID, err)
	}
	return nil
}

const threadColumns = `t.id, t.user_id, t.summary, t.created_at, t.updated_at,
	(SELECT COUNT(*) FROM messages m WHERE m.thread_id = t.id)`

func scanThread(row interface{ Scan(...any) error }) (*Thread, error) {
	var t Thread
	var created, updated int64
	if err := row.Scan(&t.ID, &t.UserID, &t.Summary, &created, &updated, &t.MessageCount); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return &t, nil
}

func (s *SQLiteStore) GetThread(ctx context.Context, userID, threadID string) (*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads t WHERE t.id = ? AND t.user_id = ?`
	t, err := scanThread(s.db.QueryRowContext(ctx, query, threadID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// ListThreads returns the user's threads, newest first.
func (s *SQLiteStore) ListThreads(ctx context.Context, userID string) ([]*Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads t WHERE t.user_id = ? ORDER BY t.created_at DESC, t.id DESC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// Checkpoint Implementation

func (s *SQLiteStore) SaveState(ctx context.Context, userID, threadID string, state *conversation.State) error {
	if state == nil {
		return errors.New("cannot save nil state")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC().UnixNano()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM threads WHERE id = ?`, threadID).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO threads (id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			threadID, userID, now, now); err != nil {
			return fmt.Errorf("failed to create thread %s: %w", threadID, err)
		}
	case err != nil:
		return err
	case owner != userID:
		return fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = ?`, threadID).Scan(&stored); err != nil {
		return err
	}
	if stored > len(state.Messages) {
		return fmt.Errorf("thread %s has %d stored messages, state has %d: %w", threadID, stored, len(state.Messages), ErrStaleState)
	}

	for _, m := range state.Messages[stored:] {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (thread_id, position, id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			threadID, m.Position, m.ID, string(m.Role), m.Content, m.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("failed to append message %d: %w", m.Position, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET summary = ?, summarized_through = ?, updated_at = ? WHERE id = ?`,
		state.Summary, state.SummarizedThrough, now, threadID); err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// LoadState rebuilds the full state; ErrNotFound if the thread is absent.
func (s *SQLiteStore) LoadState(ctx context.Context, userID, threadID string) (*conversation.State, error) {
	state := &conversation.State{}
	err := s.db.QueryRowContext(ctx,
		`SELECT summary, summarized_through FROM threads WHERE id = ? AND user_id = ?`,
		threadID, userID).Scan(&state.Summary, &state.SummarizedThrough)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, threadID)
	if err != nil {
		return nil, err
	}
	state.Messages = msgs
	return state, nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, userID, threadID string) ([]conversation.Message, error) {
	if _, err := s.LoadSummary(ctx, userID, threadID); err != nil {
		return nil, err
	}
	return s.loadMessages(ctx, threadID)
}

// LoadSummary reads only the summary column.
func (s *SQLiteStore) LoadSummary(ctx context.Context, userID, threadID string) (string, error) {
	var summary string
	err := s.db.QueryRowContext(ctx,
		`SELECT summary FROM threads WHERE id = ? AND user_id = ?`, threadID, userID).Scan(&summary)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
		}
		return "", err
	}
	return summary, nil
}

func (s *SQLiteStore) loadMessages(ctx context.Context, threadID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, position, role, content, created_at FROM messages WHERE thread_id = ? ORDER BY position`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []conversation.Message
	for rows.Next() {
		var m conversation.Message
		var role string
		var created int64
		if err := rows.Scan(&m.ID, &m.Position, &role, &m.Content, &created); err != nil {
			return nil, err
		}
		m.Role = conversation.Role(role)
		m.CreatedAt = time.Unix(0, created).UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
