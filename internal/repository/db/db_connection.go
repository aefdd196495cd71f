package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"

// InitDB opens or creates the SQLite file at path and ensures the tables exist.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", path, err)
	}

	// one writer: the recorder, the API and the auth flows share it
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA synchronous = NORMAL;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

const schemaKilnState = `
CREATE TABLE IF NOT EXISTS kiln_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    status TEXT NOT NULL,
    curve TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    temp_c REAL NOT NULL,
    thermocouple_c REAL,
    target_c REAL NOT NULL DEFAULT 0,
    duty REAL NOT NULL DEFAULT 0,
    stage TEXT NOT NULL DEFAULT '',
    elapsed_s INTEGER NOT NULL DEFAULT 0,
    remaining_s INTEGER NOT NULL DEFAULT 0,
    progress REAL NOT NULL DEFAULT 0,
    errors TEXT,
    running BOOLEAN NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaKilnEvents = `
CREATE TABLE IF NOT EXISTS kiln_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    meta TEXT
);
`

const schemaKilnEventsIndex = `
CREATE INDEX IF NOT EXISTS kiln_events_occurred_at ON kiln_events (occurred_at);
`

const schemaFiringSamples = `
CREATE TABLE IF NOT EXISTS firing_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    taken_at TIMESTAMP NOT NULL,
    thermocouple_c REAL,
    estimate_c REAL NOT NULL,
    setpoint_c REAL NOT NULL,
    duty REAL NOT NULL,
    stage TEXT NOT NULL
);
`

const schemaFiringSamplesIndex = `
CREATE INDEX IF NOT EXISTS firing_samples_session ON firing_samples (session_id, taken_at);
`

const schemaUsers = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaKilnState,
		schemaKilnEvents,
		schemaKilnEventsIndex,
		schemaFiringSamples,
		schemaFiringSamplesIndex,
		schemaUsers,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
