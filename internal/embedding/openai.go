package embedding

import (
	"context"
	"fmt"

	"github.com/hyperjump/docrag/pkg/utils"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// openAIMaxBatch is the largest input array accepted by the embeddings API.
const openAIMaxBatch = 100

// OpenAIEmbedder calls an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

// NewOpenAIEmbedder creates an embedder. baseURL may be empty for the
// default OpenAI endpoint.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions int, opts ...option.RequestOption) *OpenAIEmbedder {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAIEmbedder{
		client:     openai.NewClient(reqOpts...),
		model:      model,
		dimensions: dimensions,
	}
}

// Embed embeds one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most openAIMaxBatch inputs.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += openAIMaxBatch {
		batch := texts[start:min(start+openAIMaxBatch, len(texts))]
		params := openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		}
		if e.dimensions > 0 {
			params.Dimensions = openai.Int(int64(e.dimensions))
		}
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmbeddingUnavailable, len(resp.Data), len(batch))
		}
		vecs := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || int(d.Index) >= len(batch) {
				return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingUnavailable, d.Index)
			}
			vecs[d.Index] = toFloat32(d.Embedding)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimensions returns the requested embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	utils.NormalizeL2(out)
	return out
}
