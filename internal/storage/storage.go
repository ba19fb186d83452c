// Package storage persists document metadata records and their processing status.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/docrag/internal/models"
)

var (
	// ErrNotFound is returned when no document has the requested id.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidTransition is returned when a status change is not PROCESSING -> terminal.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store defines document metadata operations.
type Store interface {
	// CreateDocument inserts a new record in PROCESSING and returns it with its assigned id.
	CreateDocument(ctx context.Context, filename string) (*models.Document, error)
	// SetStatus moves a PROCESSING record to a terminal status. cause is kept for FAILED records.
	SetStatus(ctx context.Context, id int64, status models.Status, cause string) error
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	CountAll(ctx context.Context) (int, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error)
	// Statuses returns the status of each known id. Unknown ids are absent from the map.
	Statuses(ctx context.Context, ids []int64) (map[int64]models.Status, error)
	Close() error
}
