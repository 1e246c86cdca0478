// Package sqlite is the default local store: the engine snapshot and the
// transaction archive in a single SQLite file (pure-Go modernc driver).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements in order.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Whole-engine snapshot, one row per state key
		`CREATE TABLE IF NOT EXISTS engine_state (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Append-only XP history
		`CREATE TABLE IF NOT EXISTS xp_transactions (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			occurred_at  TEXT NOT NULL,
			source       TEXT NOT NULL,
			base_amount  INTEGER NOT NULL,
			multiplier   REAL NOT NULL DEFAULT 1,
			bonus_type   TEXT,
			total_amount INTEGER NOT NULL,
			previous_xp  INTEGER NOT NULL,
			new_xp       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_transactions_source ON xp_transactions(source)`,
	}
}

// ─── DB ─────────────────────────────────────────────────────────────────────

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA synchronous = NORMAL`,
	} {
		if _, err := sqlDB.ExecContext(ctx, pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	for i, stmt := range Migrations() {
		if _, err := db.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration %d: %w", i, err)
		}
	}
	return nil
}

// Ping checks the handle is usable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}
