package repository

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = errors.New("not found")

const dateLayout = "2006-01-02"

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Each connection to ":memory:" is its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS capital_calls (
			id TEXT PRIMARY KEY,
			fund_name TEXT NOT NULL,
			owner_scope TEXT NOT NULL,
			amount_due TEXT NOT NULL,
			due_date TEXT NOT NULL,
			bank_name TEXT,
			account_number TEXT,
			routing_number TEXT,
			wire_reference TEXT,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_capital_calls_fund_scope ON capital_calls(fund_name, owner_scope, due_date)`,
		`CREATE INDEX IF NOT EXISTS idx_capital_calls_status ON capital_calls(status)`,

		`CREATE TABLE IF NOT EXISTS risk_assessments (
			id TEXT PRIMARY KEY,
			capital_call_id TEXT UNIQUE NOT NULL,
			overall_risk TEXT NOT NULL,
			should_flag INTEGER NOT NULL,
			detail TEXT NOT NULL,
			payload_hash TEXT NOT NULL DEFAULT '',
			assessed_at DATETIME NOT NULL,
			FOREIGN KEY (capital_call_id) REFERENCES capital_calls(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_assessments_risk ON risk_assessments(overall_risk)`,

		`CREATE TABLE IF NOT EXISTS payment_statements (
			id TEXT PRIMARY KEY,
			format TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			payment_count INTEGER NOT NULL,
			ingested_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			statement_id TEXT,
			amount TEXT NOT NULL,
			payment_date TEXT,
			reference TEXT,
			received_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_statement ON payments(statement_id)`,

		`CREATE TABLE IF NOT EXISTS payment_matches (
			payment_id TEXT PRIMARY KEY,
			capital_call_id TEXT NOT NULL,
			confidence REAL NOT NULL,
			match_type TEXT NOT NULL,
			matched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_matches_call ON payment_matches(capital_call_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
