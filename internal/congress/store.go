package congress

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	chamber TEXT NOT NULL,
	member TEXT NOT NULL,
	ticker TEXT NOT NULL,
	txn TEXT NOT NULL,
	amount_range TEXT NOT NULL,
	date TEXT NOT NULL,
	PRIMARY KEY (chamber, member, ticker, txn, amount_range, date)
);
CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(date);
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store persists trades so restarts and daily refreshes only add new rows.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Upsert inserts trades that are not stored yet and returns how many were new.
func (s *Store) Upsert(ctx context.Context, trades []Trade) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO trades
		(chamber, member, ticker, txn, amount_range, date) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, t := range trades {
		res, err := stmt.ExecContext(ctx, string(t.Chamber), t.Member, t.Ticker, t.Transaction, t.Range, t.Date.Format(time.DateOnly))
		if err != nil {
			return 0, fmt.Errorf("insert %s %s: %w", t.Ticker, t.Date.Format(time.DateOnly), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		added += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return added, nil
}

// Latest returns the date of the newest stored trade. ok is false when the
// store is empty.
func (s *Store) Latest(ctx context.Context) (latest time.Time, ok bool, err error) {
	var raw sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM trades`).Scan(&raw); err != nil {
		return time.Time{}, false, fmt.Errorf("query latest: %w", err)
	}
	if !raw.Valid {
		return time.Time{}, false, nil
	}
	latest, err = time.Parse(time.DateOnly, raw.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest date: %w", err)
	}
	return latest, true, nil
}

// PurchaseCounts counts purchases per ticker with a trade date in [from, to].
func (s *Store) PurchaseCounts(ctx context.Context, from, to time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker, COUNT(*) FROM trades
		WHERE txn = ? AND date >= ? AND date <= ?
		GROUP BY ticker`,
		TransactionPurchase, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ticker string
		var n int
		if err := rows.Scan(&ticker, &n); err != nil {
			return nil, fmt.Errorf("scan purchase count: %w", err)
		}
		counts[ticker] = n
	}
	return counts, rows.Err()
}

func (s *Store) lastRefresh(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'last_refresh'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("query last refresh: %w", err)
	}
	return time.Parse(time.RFC3339, raw)
}

func (s *Store) setLastRefresh(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('last_refresh', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store last refresh: %w", err)
	}
	return nil
}
