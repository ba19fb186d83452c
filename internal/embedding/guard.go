package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Guard bounds every call to the wrapped embedder with a timeout, checks
// the dimension of every returned vector and retries a failed call once.
// Errors that survive the retry wrap ErrEmbeddingUnavailable.
type Guard struct {
	next    Embedder
	timeout time.Duration
	logger  *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTimeout sets the per-attempt timeout. Zero disables it.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		g.timeout = d
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *zap.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger
	}
}

// NewGuard wraps next.
func NewGuard(next Embedder, opts ...GuardOption) *Guard {
	g := &Guard{next: next, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for try := 0; try < 2; try++ {
		if ctx.Err() != nil {
			break
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if g.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		}
		err = fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if try == 0 {
			g.logger.Warn("embedding call failed, retrying", zap.Error(err))
		}
	}
	if err == nil {
		err = ctx.Err()
	}
	if errors.Is(err, ErrEmbeddingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
}

func (g *Guard) check(v []float32) error {
	if len(v) != g.next.Dimensions() {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrEmbeddingUnavailable, len(v), g.next.Dimensions())
	}
	return nil
}

// Embed embeds one text.
func (g *Guard) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := g.attempt(ctx, func(ctx context.Context) error {
		v, err := g.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		if err := g.check(v); err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// EmbedBatch embeds texts and requires exactly one vector per text.
func (g *Guard) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out [][]float32
	err := g.attempt(ctx, func(ctx context.Context) error {
		vecs, err := g.next.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingUnavailable, len(vecs), len(texts))
		}
		for _, v := range vecs {
			if err := g.check(v); err != nil {
				return err
			}
		}
		out = vecs
		return nil
	})
	return out, err
}

// Dimensions returns the wrapped embedder's dimension.
func (g *Guard) Dimensions() int { return g.next.Dimensions() }

// Close closes the wrapped embedder.
func (g *Guard) Close() error { return g.next.Close() }
