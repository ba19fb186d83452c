// Package models defines core data structures for documents, chunks, and query results.
package models

import (
	"fmt"
	"time"
)

// Status is the processing lifecycle state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a stored status string.
func ParseStatus(v string) (Status, error) {
	switch Status(v) {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return Status(v), nil
	}
	return "", fmt.Errorf("unknown document status %q", v)
}

// Document is the metadata record of an ingested file.
type Document struct {
	ID        int64     `json:"id" db:"id"`
	Filename  string    `json:"filename" db:"filename"`
	Status    Status    `json:"status" db:"status"`
	Error     string    `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Upload is one raw file handed to the ingestion pipeline.
type Upload struct {
	Filename string
	Content  []byte
}

// Page is the extracted text of one page (or sheet/slide) of a document.
// Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded span of a document's text. Offset is in runes
// relative to the start of its page.
type Chunk struct {
	DocumentID int64     `json:"document_id"`
	Filename   string    `json:"filename"`
	Index      int       `json:"chunk_index"`
	Page       int       `json:"page"`
	Offset     int       `json:"offset"`
	Text       string    `json:"content"`
	Embedding  []float32 `json:"-"`
}
