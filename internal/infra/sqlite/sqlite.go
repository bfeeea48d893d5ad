// Package sqlite persists the participant directory, the transaction journal
// and the admin-editable settings (rate table, policy) in a single SQLite
// file. The ledger itself keeps balances in memory; this store is its
// durable journal.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// FileName is the database file created inside the data directory.
const FileName = "centi.db"

// timeLayout is how timestamps are stored: sortable, UTC, nanosecond precision.
const timeLayout = time.RFC3339Nano

// DB wraps the SQLite connection.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database in dir and applies migrations.
// An empty dir opens a private in-memory database.
func Open(dir string) (*DB, error) {
	dsn := ":memory:"
	if dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = "file:" + filepath.Join(dir, FileName) +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// Ping checks the connection.
func (db *DB) Ping() error {
	return db.db.Ping()
}

func (db *DB) migrate() error {
	for i, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements in order.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Participant directory, keyed by id and unique email
		`CREATE TABLE IF NOT EXISTS participants (
			id                    TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			email                 TEXT NOT NULL UNIQUE COLLATE NOCASE,
			credential_hash       TEXT NOT NULL DEFAULT '',
			verified              INTEGER NOT NULL DEFAULT 0,
			kyc_status            TEXT NOT NULL DEFAULT 'incomplete',
			reputation            INTEGER NOT NULL DEFAULT 0,
			rating                REAL NOT NULL DEFAULT 0,
			total_hours_delivered REAL NOT NULL DEFAULT 0,
			total_hours_received  REAL NOT NULL DEFAULT 0,
			created_at            TEXT NOT NULL
		)`,

		// Append-only ledger journal
		`CREATE TABLE IF NOT EXISTS transactions (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			participant_id  TEXT NOT NULL,
			kind            TEXT NOT NULL,
			amount          TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			service_id      TEXT NOT NULL DEFAULT '',
			counterparty_id TEXT NOT NULL DEFAULT '',
			loan_id         TEXT NOT NULL DEFAULT '',
			external_ref    TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_participant ON transactions(participant_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_kind ON transactions(kind)`,

		// Rate table overrides edited through the admin API
		`CREATE TABLE IF NOT EXISTS service_categories (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			rate_per_hour     TEXT NOT NULL,
			demand_multiplier REAL NOT NULL DEFAULT 1,
			standard_hours    REAL NOT NULL,
			updated_at        TEXT NOT NULL
		)`,

		// Policy constants as a key/value table
		`CREATE TABLE IF NOT EXISTS policy_settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
