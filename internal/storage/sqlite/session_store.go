// Package sqlite implements the default SessionStore on a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// TimeLayout is the format produced by datetime('now').
const TimeLayout = "2006-01-02 15:04:05"

// SessionStore persists sessions and fix-state overrides in SQLite.
type SessionStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*SessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SessionStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, migrations)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (s *SessionStore) DB() *sql.DB {
	return s.db
}

// SaveSession upserts the session row. created_at is set only on insert.
func (s *SessionStore) SaveSession(ctx context.Context, session fixlab.Session) error {
	requestJSON, err := json.Marshal(session.Request)
	if err != nil {
		return &fixlab.StoreError{Op: "marshal request", Err: err}
	}
	reportJSON, err := json.Marshal(session.Report)
	if err != nil {
		return &fixlab.StoreError{Op: "marshal report", Err: err}
	}
	const query = `
INSERT INTO sessions (session_id, store, root_url, status, request_json, report_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))
ON CONFLICT(session_id) DO UPDATE SET
	store = excluded.store,
	root_url = excluded.root_url,
	status = excluded.status,
	request_json = excluded.request_json,
	report_json = excluded.report_json,
	updated_at = datetime('now')`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.Store, session.RootURL, string(session.Status),
		string(requestJSON), string(reportJSON),
	); err != nil {
		return &fixlab.StoreError{Op: "upsert session", Err: err}
	}
	return nil
}

// GetSession loads one session with its stored report.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (fixlab.Session, error) {
	const query = `
SELECT session_id, store, root_url, status, request_json, report_json, created_at, updated_at
FROM sessions WHERE session_id = ?`
	var (
		session                 fixlab.Session
		status                  string
		requestJSON, reportJSON string
		createdAt, updatedAt    string
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID, &session.Store, &session.RootURL, &status,
		&requestJSON, &reportJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return fixlab.Session{}, fixlab.ErrNotFound
	}
	if err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "get session", Err: err}
	}
	session.Status = fixlab.SessionStatus(status)
	if err := json.Unmarshal([]byte(requestJSON), &session.Request); err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "decode request", Err: err}
	}
	if err := json.Unmarshal([]byte(reportJSON), &session.Report); err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "decode report", Err: err}
	}
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	return session, nil
}

// ListSessions returns headers newest first, optionally filtered by store.
func (s *SessionStore) ListSessions(ctx context.Context, filter fixlab.SessionFilter) ([]fixlab.SessionHeader, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	const query = `
SELECT session_id, store, root_url, status, created_at, updated_at
FROM sessions
WHERE (? = '' OR store = ?)
ORDER BY created_at DESC, session_id DESC
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, filter.Store, filter.Store, limit)
	if err != nil {
		return nil, &fixlab.StoreError{Op: "list sessions", Err: err}
	}
	defer rows.Close() //nolint:errcheck

	out := make([]fixlab.SessionHeader, 0)
	for rows.Next() {
		var (
			h                    fixlab.SessionHeader
			status               string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&h.ID, &h.Store, &h.RootURL, &status, &createdAt, &updatedAt); err != nil {
			return nil, &fixlab.StoreError{Op: "scan session", Err: err}
		}
		h.Status = fixlab.SessionStatus(status)
		h.CreatedAt = parseTime(createdAt)
		h.UpdatedAt = parseTime(updatedAt)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, &fixlab.StoreError{Op: "list sessions", Err: err}
	}
	return out, nil
}

// ListOverrides returns the overlay rows for a session. A missing overrides
// table reads as no overrides.
func (s *SessionStore) ListOverrides(ctx context.Context, sessionID string) ([]fixlab.FixStateOverride, error) {
	const query = `
SELECT fix_id, state, note, updated_at
FROM fix_state_overrides
WHERE session_id = ?
ORDER BY fix_id`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		if isMissingTable(err) {
			return nil, nil
		}
		return nil, &fixlab.StoreError{Op: "list overrides", Err: err}
	}
	defer rows.Close() //nolint:errcheck

	var out []fixlab.FixStateOverride
	for rows.Next() {
		var (
			o         fixlab.FixStateOverride
			state     string
			note      sql.NullString
			updatedAt string
		)
		if err := rows.Scan(&o.FixID, &state, &note, &updatedAt); err != nil {
			return nil, &fixlab.StoreError{Op: "scan override", Err: err}
		}
		o.SessionID = sessionID
		o.State = fixlab.FixState(state)
		if note.Valid {
			v := note.String
			o.Note = &v
		}
		o.UpdatedAt = parseTime(updatedAt)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, &fixlab.StoreError{Op: "list overrides", Err: err}
	}
	return out, nil
}

// ApplyOverrides writes the batch in one transaction and touches the session.
func (s *SessionStore) ApplyOverrides(ctx context.Context, sessionID string, writes []fixlab.OverrideWrite) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &fixlab.StoreError{Op: "begin overrides", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fixlab.ErrNotFound
	}
	if err != nil {
		return &fixlab.StoreError{Op: "lookup session", Err: err}
	}

	const upsert = `
INSERT INTO fix_state_overrides (session_id, fix_id, state, note, updated_at)
VALUES (?, ?, ?, ?, datetime('now'))
ON CONFLICT(session_id, fix_id) DO UPDATE SET
	state = excluded.state,
	note = excluded.note,
	updated_at = datetime('now')`
	for _, w := range writes {
		if w.Delete {
			if _, err = tx.ExecContext(ctx,
				`DELETE FROM fix_state_overrides WHERE session_id = ? AND fix_id = ?`,
				sessionID, w.FixID,
			); err != nil {
				return &fixlab.StoreError{Op: "delete override", Err: err}
			}
			continue
		}
		var note any
		if w.Note != nil {
			note = *w.Note
		}
		if _, err = tx.ExecContext(ctx, upsert, sessionID, w.FixID, string(w.State), note); err != nil {
			return &fixlab.StoreError{Op: "upsert override", Err: err}
		}
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = datetime('now') WHERE session_id = ?`, sessionID,
	); err != nil {
		return &fixlab.StoreError{Op: "touch session", Err: err}
	}
	if err = tx.Commit(); err != nil {
		return &fixlab.StoreError{Op: "commit overrides", Err: err}
	}
	return nil
}

// Ping checks the database handle.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

func parseTime(v string) time.Time {
	t, err := time.ParseInLocation(TimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "no such table")
}
