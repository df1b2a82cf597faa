// Package store provides SQLite-backed persistence for experiment run
// history and capture artifacts.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/DomPTech/Microscopy-AI-Agent-Demo/internal/domain"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS experiment_runs (
	run_id        TEXT PRIMARY KEY,
	experiment_id TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	phase         TEXT NOT NULL DEFAULT 'validating',
	success       INTEGER NOT NULL DEFAULT 0,
	reward        REAL NOT NULL DEFAULT 0.0,
	log_json      TEXT NOT NULL DEFAULT '[]',
	started_at    INTEGER NOT NULL DEFAULT 0,
	finished_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_experiment ON experiment_runs(experiment_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON experiment_runs(started_at);

CREATE TABLE IF NOT EXISTS captures (
	capture_id TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL,
	rows       INTEGER NOT NULL DEFAULT 0,
	cols       INTEGER NOT NULL DEFAULT 0,
	dtype      TEXT NOT NULL DEFAULT '',
	detector   TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_captures_run ON captures(run_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "open database", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, domain.WrapEngineError(domain.ErrStoreInit.Code, "migrate schema", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
