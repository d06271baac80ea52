// Package index provides the SQLite-backed structured store: projects, files,
// functions and observations, with a tokenised inverted index for search.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/mnemo/internal/apperr"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	root_path    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS files (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	path           TEXT NOT NULL,
	summary        TEXT NOT NULL DEFAULT '',
	purpose        TEXT NOT NULL DEFAULT '',
	component_name TEXT NOT NULL DEFAULT '',
	is_component   INTEGER NOT NULL DEFAULT 0,
	content_hash   TEXT NOT NULL DEFAULT '',
	updated_at     INTEGER NOT NULL,
	UNIQUE(project_id, path)
);

CREATE TABLE IF NOT EXISTS functions (
	id          TEXT PRIMARY KEY,
	file_id     TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	ordinal     INTEGER NOT NULL,
	name        TEXT NOT NULL,
	line_number INTEGER NOT NULL CHECK (line_number >= 0),
	kind        TEXT NOT NULL DEFAULT 'function'
);

CREATE TABLE IF NOT EXISTS file_terms (
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	term    TEXT NOT NULL,
	tf      INTEGER NOT NULL,
	PRIMARY KEY (file_id, term)
);

CREATE TABLE IF NOT EXISTS observations (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL CHECK (category IN ('decision','pattern','bugfix','gotcha','feature','implementation')),
	body       TEXT NOT NULL,
	files      TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS observation_terms (
	observation_id TEXT NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
	term           TEXT NOT NULL,
	PRIMARY KEY (observation_id, term)
);

CREATE TABLE IF NOT EXISTS sync_state (
	project_id   TEXT PRIMARY KEY,
	last_sync_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_project      ON files(project_id);
CREATE INDEX IF NOT EXISTS idx_functions_file     ON functions(file_id);
CREATE INDEX IF NOT EXISTS idx_functions_name     ON functions(name);
CREATE INDEX IF NOT EXISTS idx_file_terms_term    ON file_terms(term);
CREATE INDEX IF NOT EXISTS idx_obs_terms_term     ON observation_terms(term);
CREATE INDEX IF NOT EXISTS idx_observations_proj  ON observations(project_id, created_at);
`

// DB wraps a sql.DB with structured-store operations.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (or creates) the SQLite database and applies the schema. Any
// failure is reported as apperr.ErrStoreUnavailable.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w: %w", apperr.ErrStoreUnavailable, err)
	}
	return &DB{conn: conn, now: time.Now}, nil
}

// OpenExisting opens a database that must already exist. Read-only callers
// use it so a missing index is reported instead of silently created.
func OpenExisting(dsn string) (*DB, error) {
	if _, err := os.Stat(dsn); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("index: %s: %w", dsn, apperr.ErrStoreUnavailable)
		}
		return nil, fmt.Errorf("index: stat %s: %w: %w", dsn, apperr.ErrStoreUnavailable, err)
	}
	return Open(dsn)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the backing store is reachable and carries the schema.
func (db *DB) Ping(ctx context.Context) error {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM files`).Scan(&n); err != nil {
		return storeErr("ping", err)
	}
	return nil
}
