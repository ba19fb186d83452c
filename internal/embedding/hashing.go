package embedding

import (
	"context"
	"hash/fnv"

	"github.com/hyperjump/docrag/pkg/utils"
)

// HashingEmbedder is a deterministic, model-free embedder. Word unigrams and
// bigrams are hashed into a signed bag-of-features vector, so texts sharing
// vocabulary land close together under cosine similarity. Used offline and
// in tests.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder returns a hashing embedder of the given dimension.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashingEmbedder{dimensions: dimensions}
}

func (e *HashingEmbedder) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

// Embed returns the L2-normalized feature vector of text.
func (e *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := make([]float32, e.dimensions)
	words := SplitWords(text)
	for i, w := range words {
		e.add(v, w, 1)
		if i > 0 {
			e.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	utils.NormalizeL2(v)
	return v, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashingEmbedder) Close() error {
	return nil
}
