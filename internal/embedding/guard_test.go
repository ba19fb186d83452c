package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedEmbedder struct {
	dims  int
	fails int
	calls int
	vec   []float32
	delay time.Duration
}

func (e *scriptedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.delay > 0 {
		select {
		case <-time.After(e.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.calls <= e.fails {
		return nil, errors.New("connection refused")
	}
	if e.vec != nil {
		return e.vec, nil
	}
	return make([]float32, e.dims), nil
}

func (e *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *scriptedEmbedder) Dimensions() int { return e.dims }
func (e *scriptedEmbedder) Close() error    { return nil }

func TestGuard_RetriesOnce(t *testing.T) {
	inner := &scriptedEmbedder{dims: 4, fails: 1}
	g := NewGuard(inner)
	if _, err := g.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected success after one retry, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestGuard_FailsAfterRetry(t *testing.T) {
	inner := &scriptedEmbedder{dims: 4, fails: 5}
	g := NewGuard(inner)
	_, err := g.Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestGuard_WrongDimension(t *testing.T) {
	inner := &scriptedEmbedder{dims: 4, vec: []float32{1, 2}}
	g := NewGuard(inner)
	_, err := g.Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if _, err := g.EmbedBatch(context.Background(), []string{"a", "b"}); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("batch: expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestGuard_Timeout(t *testing.T) {
	inner := &scriptedEmbedder{dims: 4, delay: time.Second}
	g := NewGuard(inner, WithTimeout(10*time.Millisecond))
	start := time.Now()
	_, err := g.Embed(context.Background(), "x")
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("timeout not applied")
	}
}

func TestGuard_EmptyBatch(t *testing.T) {
	g := NewGuard(&scriptedEmbedder{dims: 4})
	vecs, err := g.EmbedBatch(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Errorf("got %v, %v", vecs, err)
	}
}
