package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "boilbot/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS audit (
	id         TEXT PRIMARY KEY,
	at         TEXT NOT NULL,
	actor_id   INTEGER NOT NULL,
	actor_name TEXT,
	action     TEXT NOT NULL,
	target     TEXT NOT NULL,
	detail     TEXT,
	ok         INTEGER NOT NULL,
	err        TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_at ON audit(at);
`

// auditTimeLayout is fixed-width so text ordering matches time ordering.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db    *sql.DB
	log   logx.Logger
	audit bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, audit: cfg.Audit}, nil
}

func (s *sqliteStore) Read(ctx context.Context) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM state WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (s *sqliteStore) Write(ctx context.Context, b []byte) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(id, body, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(b), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if !s.audit {
		return nil
	}
	e.fill()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, actor_id, actor_name, action, target, detail, ok, err)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.At.UTC().Format(auditTimeLayout), e.ActorID, nullStr(e.ActorName),
		e.Action, e.Target, nullStr(e.Detail), e.OK, nullStr(e.Error),
	)
	return err
}

// RecentAudit returns up to limit entries, newest first.
func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, actor_id, COALESCE(actor_name, ''), action, target, COALESCE(detail, ''), ok, COALESCE(err, '')
		 FROM audit ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			at string
		)
		if err := rows.Scan(&e.ID, &at, &e.ActorID, &e.ActorName, &e.Action, &e.Target, &e.Detail, &e.OK, &e.Error); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(auditTimeLayout, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
