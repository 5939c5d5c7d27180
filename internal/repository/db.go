package repository

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS loans (
			id TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL,
			borrower_wallet TEXT NOT NULL DEFAULT '',
			collateral_asset TEXT NOT NULL,
			principal_amount TEXT NOT NULL,
			interest_rate REAL NOT NULL,
			duration_months INTEGER NOT NULL,
			monthly_payment TEXT NOT NULL,
			total_amount TEXT NOT NULL,
			collateral_amount TEXT NOT NULL,
			collateral_ratio TEXT NOT NULL,
			loan_to_value TEXT NOT NULL,
			collateral_tx_ref TEXT NOT NULL DEFAULT '',
			remaining_balance TEXT NOT NULL,
			interest_accrued TEXT NOT NULL,
			late_fees TEXT NOT NULL,
			status TEXT NOT NULL,
			start_date TEXT NOT NULL,
			next_payment_date TEXT,
			end_date TEXT NOT NULL,
			snapshot_market_cap TEXT NOT NULL,
			snapshot_unit_price TEXT NOT NULL,
			snapshot_total_supply TEXT NOT NULL,
			snapshot_holder_count INTEGER NOT NULL,
			snapshot_observed_at TEXT NOT NULL,
			version INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower_id)`,
		`CREATE INDEX IF NOT EXISTS idx_loans_status_due ON loans(status, next_payment_date)`,

		`CREATE TABLE IF NOT EXISTS repayments (
			id TEXT PRIMARY KEY,
			loan_id TEXT NOT NULL,
			payer_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			principal_component TEXT NOT NULL,
			interest_component TEXT NOT NULL,
			late_fee_component TEXT NOT NULL,
			unapplied TEXT NOT NULL,
			days_late INTEGER NOT NULL,
			due_date TEXT,
			payment_date TEXT NOT NULL,
			status TEXT NOT NULL,
			balance_after TEXT NOT NULL,
			FOREIGN KEY (loan_id) REFERENCES loans(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repayments_loan ON repayments(loan_id, payment_date)`,

		`CREATE TABLE IF NOT EXISTS custody_intents (
			id TEXT PRIMARY KEY,
			loan_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			asset TEXT NOT NULL,
			amount TEXT NOT NULL,
			to_address TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (loan_id) REFERENCES loans(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_custody_intents_loan ON custody_intents(loan_id)`,

		`CREATE TABLE IF NOT EXISTS snapshot_feeds (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			format TEXT NOT NULL,
			file_hash TEXT UNIQUE NOT NULL,
			snapshot_count INTEGER NOT NULL,
			ingested_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS collateral_snapshots (
			asset TEXT NOT NULL,
			observed_at TEXT NOT NULL,
			feed_id TEXT NOT NULL,
			market_cap TEXT NOT NULL,
			unit_price TEXT NOT NULL,
			total_supply TEXT NOT NULL,
			holder_count INTEGER NOT NULL,
			PRIMARY KEY (asset, observed_at),
			FOREIGN KEY (feed_id) REFERENCES snapshot_feeds(id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
