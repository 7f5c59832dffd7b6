// Package history keeps the pair's own record of the sessions they were
// asked to approve, in a local sqlite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Decision is the pair's answer to a prompt.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	// DecisionAborted means the prompt was never answered.
	DecisionAborted Decision = "aborted"
)

// Session is one prompt the pair answered.
type Session struct {
	ID        int64     `json:"id"`
	Socket    string    `json:"socket"`
	UID       uint32    `json:"uid"`
	PID       int       `json:"pid"`
	Pair      string    `json:"pair"`
	Prompt    string    `json:"prompt"`
	Decision  Decision  `json:"decision"`
	StartedAt time.Time `json:"started_at"`
	// EndedAt is zero while output is still being relayed.
	EndedAt   time.Time `json:"ended_at"`
	Bytes     int64     `json:"bytes"`
}

// Store is a sqlite-backed session history.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the per-user history database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "sudo_pair-history.db")
	}
	return filepath.Join(home, ".sudo_pair", "history.db")
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("history: missing database path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  id            INTEGER PRIMARY KEY AUTOINCREMENT,
  socket        TEXT NOT NULL,
  uid           INTEGER NOT NULL,
  pid           INTEGER NOT NULL,
  pair          TEXT NOT NULL,
  prompt        TEXT NOT NULL DEFAULT '',
  decision      TEXT NOT NULL,
  started_at_ms INTEGER NOT NULL,
  ended_at_ms   INTEGER NOT NULL DEFAULT 0,
  bytes         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_ms);
`)
	if err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start records a decision and returns the new row id.
func (s *Store) Start(ctx context.Context, rec Session) (int64, error) {
	if rec.Decision == "" {
		return 0, errors.New("history: missing decision")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (socket, uid, pid, pair, prompt, decision, started_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, rec.Socket, rec.UID, rec.PID, rec.Pair, rec.Prompt, string(rec.Decision), rec.StartedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}
	return res.LastInsertId()
}

// Finish marks a session as ended after relaying n bytes.
func (s *Store) Finish(ctx context.Context, id int64, n int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions SET ended_at_ms = ?, bytes = ? WHERE id = ?
`, time.Now().UnixMilli(), n, id)
	if err != nil {
		return fmt.Errorf("history: update: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("history: session %d not found", id)
	}
	return nil
}

// List returns up to limit sessions, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Session, error) {
	q := `
SELECT id, socket, uid, pid, pair, prompt, decision, started_at_ms, ended_at_ms, bytes
FROM sessions
ORDER BY started_at_ms DESC, id DESC
`
	args := []any{}
	if limit > 0 {
		q += "LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var rec Session
		var decision string
		var started, ended int64
		if err := rows.Scan(
			&rec.ID,
			&rec.Socket,
			&rec.UID,
			&rec.PID,
			&rec.Pair,
			&rec.Prompt,
			&decision,
			&started,
			&ended,
			&rec.Bytes,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Decision = Decision(decision)
		rec.StartedAt = time.UnixMilli(started)
		if ended > 0 {
			rec.EndedAt = time.UnixMilli(ended)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
