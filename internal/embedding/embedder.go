// Package embedding maps text to fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingUnavailable is returned when the embedding model cannot be
// reached or returns malformed output.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder produces vector embeddings for text. Implementations are safe
// for concurrent use and return the same vector for the same text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// embedEach calls Embed for each text in order, stopping at the first error.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
