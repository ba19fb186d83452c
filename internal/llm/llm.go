// Package llm provides text generators that answer prompts with a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/docrag/internal/config"
	"go.uber.org/zap"
)

// ErrModelUnavailable is wrapped by every error caused by an unreachable or
// misbehaving model backend.
var ErrModelUnavailable = errors.New("language model unavailable")

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Model() string
}

// New builds the configured generator.
func New(cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var g Generator
	switch cfg.Provider {
	case "", "ollama":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm.base_url is required for ollama")
		}
		g = NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Temperature, &http.Client{})
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm.api_key is required for openai")
		}
		g = NewOpenAIGenerator(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	logger.Info("language model ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", g.Model()),
	)
	return WithTimeout(g, cfg.Timeout), nil
}

type timeoutGenerator struct {
	next    Generator
	timeout time.Duration
}

// WithTimeout bounds every Generate call. A zero timeout returns g unchanged.
func WithTimeout(g Generator, timeout time.Duration) Generator {
	if timeout <= 0 {
		return g
	}
	return &timeoutGenerator{next: g, timeout: timeout}
}

func (t *timeoutGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Generate(ctx, prompt)
}

func (t *timeoutGenerator) Model() string {
	return t.next.Model()
}

// unavailable wraps err with ErrModelUnavailable unless it already is one.
func unavailable(err error) error {
	if errors.Is(err, ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
}

func nonEmpty(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrModelUnavailable)
	}
	return text, nil
}
