package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Record statuses. Only completed articles are skipped on later runs.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS scanned_articles (
	url        TEXT PRIMARY KEY,
	board      TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	files      INTEGER NOT NULL DEFAULT 0,
	scanned_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scanned_articles_board ON scanned_articles(board);
CREATE INDEX IF NOT EXISTS idx_scanned_articles_scanned_at ON scanned_articles(scanned_at);
`

// ArticleRecord is one row of scan history.
type ArticleRecord struct {
	URL       string
	Board     string
	Title     string
	Status    string
	Files     int
	ScannedAt time.Time
}

// History remembers which articles were already downloaded.
type History struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &History{db: db}, nil
}

// Seen reports whether url was already scanned successfully.
func (h *History) Seen(ctx context.Context, url string) (bool, error) {
	var status string
	err := h.db.QueryRowContext(ctx,
		`SELECT status FROM scanned_articles WHERE url = ?`, url).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query history: %w", err)
	}
	return status == StatusCompleted, nil
}

// Record inserts or replaces the history row of rec.URL.
func (h *History) Record(ctx context.Context, rec ArticleRecord) error {
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now()
	}

	const stmt = `INSERT INTO scanned_articles (url, board, title, status, files, scanned_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(url) DO UPDATE SET
	board = excluded.board,
	title = excluded.title,
	status = excluded.status,
	files = excluded.files,
	scanned_at = excluded.scanned_at`

	_, err := h.db.ExecContext(ctx, stmt,
		rec.URL, rec.Board, rec.Title, rec.Status, rec.Files, rec.ScannedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", rec.URL, err)
	}
	return nil
}

// Recent returns the latest limit records, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]ArticleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT url, board, title, status, files, scanned_at
		 FROM scanned_articles ORDER BY scanned_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []ArticleRecord
	for rows.Next() {
		var rec ArticleRecord
		if err := rows.Scan(&rec.URL, &rec.Board, &rec.Title, &rec.Status, &rec.Files, &rec.ScannedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
