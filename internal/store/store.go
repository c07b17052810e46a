package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("store: run not found")

// Store is the experiment event log: one row per run with its frozen
// timeline, the append-only lifecycle events, periodic progress snapshots
// and raw limb samples.
//
// The sequencer is the only writer of runs and events, the sample recorder
// the only writer of samples. Readers (the events command, status) go
// through the same handle.
type Store struct {
	db *sql.DB
}

// pragmas configure every connection. WAL lets the events command read a log
// while a run is still appending to it; foreign keys tie events, progress
// and samples to their run row.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// migration upgrades a log created by an older binary. migrations[i] moves a
// database from user_version i to i+1.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		// Logs written before samples were queried per limb.
		name: "samples run/limb index",
		sql:  `CREATE INDEX IF NOT EXISTS idx_samples_run_limb ON samples(run_id, limb)`,
	},
}

// Open opens the event log at path, creating it if needed. ":memory:" gives
// a private log that disappears on Close, which is what scenario replays use.
// Reopening an existing log is safe: the schema only adds what is missing
// and the append-only triggers are kept.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to event log: %w", err)
	}

	// One connection: pragmas are per connection, and a :memory: log only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the log. A zero Store closes cleanly.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// initSchema creates runs, events with their triggers, progress and
// samples, then brings user_version up to date.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for ; version < len(migrations); version++ {
		m := migrations[version]
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("migrate to v%d (%s): %w", version+1, m.name, err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// verifyPragma reports whether pragma name reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
