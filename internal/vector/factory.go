package vector

import (
	"context"
	"fmt"

	"github.com/hyperjump/docrag/internal/config"
)

// Backend names a vector index implementation.
type Backend string

const (
	// BackendMemory is an in-process brute-force index with a file snapshot.
	// Good for small corpora and tests.
	BackendMemory Backend = "memory"
	// BackendQdrant talks to a Qdrant server over REST.
	BackendQdrant Backend = "qdrant"
	// BackendPgVector stores vectors in PostgreSQL with pgvector.
	BackendPgVector Backend = "pgvector"
)

// New creates the configured index. For the memory backend the snapshot at
// cfg.Path is locked and loaded if present. Callers must still call
// EnsureCollection.
func New(ctx context.Context, cfg config.VectorConfig) (Index, error) {
	switch Backend(cfg.Backend) {
	case BackendMemory, "":
		idx, err := OpenMemoryIndex(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open vector snapshot: %w", err)
		}
		return idx, nil
	case BackendQdrant:
		return NewQdrantIndex(QdrantConfig{URL: cfg.URL, APIKey: cfg.APIKey, Timeout: cfg.Timeout})
	case BackendPgVector:
		return NewPgVectorIndex(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s (supported: memory, qdrant, pgvector)", cfg.Backend)
	}
}

// SchemaFrom builds the collection schema from configuration and the
// embedder dimension.
func SchemaFrom(cfg config.VectorConfig, dimensions int) Schema {
	return Schema{Collection: cfg.Collection, Dimensions: dimensions, Distance: Distance(cfg.Distance)}
}
