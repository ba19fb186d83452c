package embedding

import (
	"fmt"
	"net/http"

	"github.com/hyperjump/docrag/internal/config"
	"go.uber.org/zap"
)

// DefaultDimensions matches all-MiniLM-L6-v2.
const DefaultDimensions = 384

// ONNXOptions configures NewONNXEmbedder.
type ONNXOptions struct {
	ModelPath  string
	Dimensions int
	MaxTokens  int
}

// New builds the configured backend wrapped with a Guard (timeout, one
// retry, dimension check) and an LRU cache.
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var backend Embedder
	switch cfg.Provider {
	case "", "hashing":
		backend = NewHashingEmbedder(cfg.Dimensions)
	case "onnx":
		e, err := NewONNXEmbedder(ONNXOptions{ModelPath: cfg.ModelPath, Dimensions: cfg.Dimensions, MaxTokens: cfg.MaxTokens})
		if err != nil {
			return nil, err
		}
		backend = e
	case "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding.base_url is required for ollama")
		}
		backend = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimensions, &http.Client{})
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding.api_key is required for openai")
		}
		backend = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.Int("dimensions", backend.Dimensions()),
	)
	guarded := NewGuard(backend, WithTimeout(cfg.Timeout), WithLogger(logger))
	return NewCachedEmbedder(guarded, cfg.CacheSize), nil
}
