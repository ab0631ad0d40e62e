package maliciouslog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"Go2NetSentinel/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS malicious_entries (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source_ip       TEXT NOT NULL,
    detected_at_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_malicious_detected ON malicious_entries(detected_at_ns);
`

// SQLiteStore keeps the log in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create database directory: %v", model.ErrIO, err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", model.ErrIO, err)
	}
	// One connection serializes writers inside this process.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", model.ErrIO, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append implements Store in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, entries []model.MaliciousEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", model.ErrIO, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO malicious_entries (source_ip, detected_at_ns) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", model.ErrIO, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.SourceIP, e.DetectedAt.UnixNano()); err != nil {
			return fmt.Errorf("%w: insert entry: %v", model.ErrIO, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", model.ErrIO, err)
	}
	return nil
}

// Scan implements Store.
func (s *SQLiteStore) Scan(ctx context.Context) ([]model.MaliciousEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_ip, detected_at_ns FROM malicious_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: query entries: %v", model.ErrIO, err)
	}
	defer rows.Close()

	var entries []model.MaliciousEntry
	for rows.Next() {
		var ip string
		var ns int64
		if err := rows.Scan(&ip, &ns); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %v", model.ErrIO, err)
		}
		entries = append(entries, model.MaliciousEntry{SourceIP: ip, DetectedAt: time.Unix(0, ns)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return entries, nil
}

// Compact implements Store.
func (s *SQLiteStore) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM malicious_entries WHERE detected_at_ns < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired entries: %v", model.ErrIO, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrIO, err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
