package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/docrag/internal/models"
)

// StaleCause is recorded on records that were still PROCESSING when the process stopped.
const StaleCause = "interrupted"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a PROCESSING record.
func (s *SQLiteStore) CreateDocument(ctx context.Context, filename string) (*models.Document, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (filename, status, error, created_at, updated_at)
		 VALUES (?, ?, '', ?, ?)`,
		filename, string(models.StatusProcessing), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Document{
		ID:        id,
		Filename:  filename,
		Status:    models.StatusProcessing,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetStatus performs the PROCESSING -> terminal transition in a single conditional update.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status models.Status, cause string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: cannot set %s", ErrInvalidTransition, status)
	}
	if status == models.StatusCompleted {
		cause = ""
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), cause, time.Now().UTC(), id, string(models.StatusProcessing),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	doc, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: document %d is %s", ErrInvalidTransition, id, doc.Status)
}

// GetByID returns a document by id.
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, status, error, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return doc, err
}

// CountAll returns the number of records in any status.
func (s *SQLiteStore) CountAll(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// ListDocuments returns records newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, status, error, created_at, updated_at
		 FROM documents ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, max(offset, 0),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Statuses looks up the status of many documents in one query.
func (s *SQLiteStore) Statuses(ctx context.Context, ids []int64) (map[int64]models.Status, error) {
	out := make(map[int64]models.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, status FROM documents WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		status, err := models.ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		out[id] = status
	}
	return out, rows.Err()
}

// RecoverStale marks records left in PROCESSING by a previous run as FAILED.
// Call it before any new ingestion starts.
func (s *SQLiteStore) RecoverStale(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE status = ?`,
		string(models.StatusFailed), StaleCause, time.Now().UTC(), string(models.StatusProcessing),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var status string
	if err := row.Scan(&doc.ID, &doc.Filename, &status, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	st, err := models.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	doc.Status = st
	return &doc, nil
}
