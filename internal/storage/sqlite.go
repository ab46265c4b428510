// Package storage opens the SQLite database backing the local journal.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// detectFS is replaced in tests.
var detectFS fsTypeDetector = detectFilesystemType

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := ensureLocalFilesystem(path, detectFS); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS downloads (
  id             TEXT PRIMARY KEY,
  task_id        INTEGER NOT NULL,
  dir            TEXT NOT NULL,
  archive_digest TEXT NOT NULL,
  archive_bytes  INTEGER NOT NULL,
  entries        INTEGER NOT NULL,
  created_at     TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS proposals (
  id          TEXT PRIMARY KEY,
  task_id     INTEGER NOT NULL,
  message     TEXT,
  diff_bytes  INTEGER NOT NULL,
  status_code INTEGER NOT NULL,
  last_error  TEXT,
  created_at  TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
  id          TEXT PRIMARY KEY,
  endpoint    TEXT NOT NULL,
  request_id  TEXT,
  payload     JSON NOT NULL,
  received_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS downloads_created_at_idx ON downloads(created_at);`,
		`CREATE INDEX IF NOT EXISTS proposals_task_id_created_at_idx ON proposals(task_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
