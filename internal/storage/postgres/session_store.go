// Package postgres provides a Postgres-backed SessionStore.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/JakeFAU/fixlab/internal/fixlab"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// undefinedTable is the SQLSTATE Postgres reports for a missing relation.
const undefinedTable = "42P01"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// SessionStore persists sessions and fix-state overrides in Postgres.
type SessionStore struct {
	pool Pool
}

// Open connects, migrates, and returns a store.
func Open(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &SessionStore{pool: pool}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close() //nolint:errcheck

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*SessionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SessionStore{pool: pool}, nil
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
	query := `
		INSERT INTO sessions (session_id, store, root_url, status, request_json, report_json)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE
		SET store = EXCLUDED.store,
			root_url = EXCLUDED.root_url,
			status = EXCLUDED.status,
			request_json = EXCLUDED.request_json,
			report_json = EXCLUDED.report_json,
			updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query,
		session.ID, session.Store, session.RootURL, string(session.Status), requestJSON, reportJSON,
	); err != nil {
		return &fixlab.StoreError{Op: "upsert session", Err: err}
	}
	return nil
}

// GetSession loads one session with its stored report.
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (fixlab.Session, error) {
	query := `
		SELECT session_id, store, root_url, status, request_json, report_json, created_at, updated_at
		FROM sessions
		WHERE session_id = $1;
	`
	var (
		session                 fixlab.Session
		status                  string
		requestJSON, reportJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID, &session.Store, &session.RootURL, &status,
		&requestJSON, &reportJSON, &session.CreatedAt, &session.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return fixlab.Session{}, fixlab.ErrNotFound
	}
	if err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "get session", Err: err}
	}
	session.Status = fixlab.SessionStatus(status)
	if err := json.Unmarshal(requestJSON, &session.Request); err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "decode request", Err: err}
	}
	if err := json.Unmarshal(reportJSON, &session.Report); err != nil {
		return fixlab.Session{}, &fixlab.StoreError{Op: "decode report", Err: err}
	}
	session.CreatedAt = session.CreatedAt.UTC()
	session.UpdatedAt = session.UpdatedAt.UTC()
	return session, nil
}

// ListSessions returns headers newest first, optionally filtered by store.
func (s *SessionStore) ListSessions(ctx context.Context, filter fixlab.SessionFilter) ([]fixlab.SessionHeader, error) {
	query := `
		SELECT session_id, store, root_url, status, created_at, updated_at
		FROM sessions
		WHERE ($1 = '' OR store = $1)
		ORDER BY created_at DESC, session_id DESC
		LIMIT $2;
	`
	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}
	rows, err := s.pool.Query(ctx, query, filter.Store, limit)
	if err != nil {
		return nil, &fixlab.StoreError{Op: "list sessions", Err: err}
	}
	defer rows.Close()

	out := make([]fixlab.SessionHeader, 0)
	for rows.Next() {
		var (
			h      fixlab.SessionHeader
			status string
		)
		if err := rows.Scan(&h.ID, &h.Store, &h.RootURL, &status, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, &fixlab.StoreError{Op: "scan session", Err: err}
		}
		h.Status = fixlab.SessionStatus(status)
		h.CreatedAt = h.CreatedAt.UTC()
		h.UpdatedAt = h.UpdatedAt.UTC()
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
	query := `
		SELECT fix_id, state, note, updated_at
		FROM fix_state_overrides
		WHERE session_id = $1
		ORDER BY fix_id;
	`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, &fixlab.StoreError{Op: "list overrides", Err: err}
	}
	defer rows.Close()

	var out []fixlab.FixStateOverride
	for rows.Next() {
		var (
			o     fixlab.FixStateOverride
			state string
		)
		if err := rows.Scan(&o.FixID, &state, &o.Note, &o.UpdatedAt); err != nil {
			return nil, &fixlab.StoreError{Op: "scan override", Err: err}
		}
		o.SessionID = sessionID
		o.State = fixlab.FixState(state)
		o.UpdatedAt = o.UpdatedAt.UTC()
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, &fixlab.StoreError{Op: "list overrides", Err: err}
	}
	return out, nil
}

// ApplyOverrides writes the batch in one transaction and touches the session.
func (s *SessionStore) ApplyOverrides(ctx context.Context, sessionID string, writes []fixlab.OverrideWrite) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &fixlab.StoreError{Op: "begin overrides", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM sessions WHERE session_id = $1 FOR UPDATE;`, sessionID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fixlab.ErrNotFound
	}
	if err != nil {
		return &fixlab.StoreError{Op: "lookup session", Err: err}
	}

	upsert := `
		INSERT INTO fix_state_overrides (session_id, fix_id, state, note, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (session_id, fix_id) DO UPDATE
		SET state = EXCLUDED.state,
			note = EXCLUDED.note,
			updated_at = now();
	`
	for _, w := range writes {
		if w.Delete {
			if _, err = tx.Exec(ctx,
				`DELETE FROM fix_state_overrides WHERE session_id = $1 AND fix_id = $2;`,
				sessionID, w.FixID,
			); err != nil {
				return &fixlab.StoreError{Op: "delete override", Err: err}
			}
			continue
		}
		if _, err = tx.Exec(ctx, upsert, sessionID, w.FixID, string(w.State), w.Note); err != nil {
			return &fixlab.StoreError{Op: "upsert override", Err: err}
		}
	}

	if _, err = tx.Exec(ctx, `UPDATE sessions SET updated_at = now() WHERE session_id = $1;`, sessionID); err != nil {
		return &fixlab.StoreError{Op: "touch session", Err: err}
	}
	if err = tx.Commit(ctx); err != nil {
		return &fixlab.StoreError{Op: "commit overrides", Err: err}
	}
	return nil
}

// Ping checks pool connectivity.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SessionStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
