package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"netopsbot/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_state (
	scope       TEXT PRIMARY KEY,
	protocol    TEXT NOT NULL,
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// SQLite persists the sticky protocol across restarts, one row per scope
// (the managed device ID).
type SQLite struct {
	db     *sql.DB
	scope  string
	logger *slog.Logger
}

// NewSQLite opens (and migrates) the database at dbPath.
func NewSQLite(dbPath, scope string, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLite{db: db, scope: scope, logger: logger}, nil
}

func (s *SQLite) LastProtocol(ctx context.Context) (domain.Protocol, error) {
	var proto string
	err := s.db.QueryRowContext(ctx,
		`SELECT protocol FROM session_state WHERE scope = ?`, s.scope,
	).Scan(&proto)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ProtocolNone, nil
	}
	if err != nil {
		return domain.ProtocolNone, err
	}
	return domain.Protocol(proto), nil
}

func (s *SQLite) SetLastProtocol(ctx context.Context, p domain.Protocol) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_state (scope, protocol, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(scope) DO UPDATE SET protocol = excluded.protocol, updated_at = excluded.updated_at`,
		s.scope, string(p), time.Now(),
	)
	if err != nil {
		return err
	}
	s.logger.Debug("sticky protocol stored", "scope", s.scope, "protocol", p)
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
