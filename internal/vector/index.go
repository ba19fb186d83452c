// Package vector stores chunk embeddings and answers k-nearest-neighbor queries.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrIndexUnavailable wraps transport and server failures of a remote index.
	ErrIndexUnavailable = errors.New("vector index unavailable")
	// ErrSchemaMismatch reports a collection whose dimension or distance
	// differs from the configured schema.
	ErrSchemaMismatch = errors.New("vector collection schema mismatch")
	// ErrNotInitialized is returned when the collection has not been ensured.
	ErrNotInitialized = errors.New("vector collection not initialized")
	// ErrIndexLocked is returned when a local snapshot is open in another process.
	ErrIndexLocked = errors.New("vector index is in use by another process")
)

// Distance is the similarity metric of a collection.
type Distance string

// DistanceCosine is the only supported metric.
const DistanceCosine Distance = "cosine"

// Schema fixes the shape of a collection.
type Schema struct {
	Collection string
	Dimensions int
	Distance   Distance
}

// Validate checks that the schema is usable.
func (s Schema) Validate() error {
	if s.Collection == "" {
		return fmt.Errorf("collection name is required")
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("dimensions must be positive")
	}
	if s.Distance != DistanceCosine {
		return fmt.Errorf("unsupported distance %q", s.Distance)
	}
	return nil
}

// compatible returns ErrSchemaMismatch when other describes a different collection shape.
func (s Schema) compatible(other Schema) error {
	if s.Dimensions != other.Dimensions || s.Distance != other.Distance {
		return fmt.Errorf("%w: collection %q has %d/%s, configured %d/%s", ErrSchemaMismatch,
			s.Collection, other.Dimensions, other.Distance, s.Dimensions, s.Distance)
	}
	return nil
}

// Metadata ties an entry back to its document.
type Metadata struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page"`
	Offset     int    `json:"offset"`
}

// Entry is one stored chunk.
type Entry struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Hit is a search result.
type Hit struct {
	ID       string
	Text     string
	Metadata Metadata
	Score    float64
}

// Index is a collection of entries with similarity search. Implementations
// are safe for concurrent upserts and searches.
type Index interface {
	// EnsureCollection creates the collection if absent and verifies its
	// schema if present. It never drops existing data.
	EnsureCollection(ctx context.Context, schema Schema) error
	// Upsert stores entries in order, replacing entries with the same ID.
	Upsert(ctx context.Context, entries []Entry) error
	// Search returns up to k hits by descending score; ties keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	// DeleteDocument removes every entry of a document.
	DeleteDocument(ctx context.Context, documentID int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// Flusher is implemented by indexes whose writes become durable only when
// Flush returns.
type Flusher interface {
	Flush(ctx context.Context) error
}
