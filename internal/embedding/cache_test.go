package embedding

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestCache_GetSet(t *testing.T) {
	c := NewCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	// a becomes most recent, so c evicts b.
	c.Get("a")
	c.Set("c", []float32{6})
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to remain")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache(16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*i)%32)
				c.Set(key, []float32{float32(i)})
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}

type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	inner Embedder
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return e.inner.Embed(ctx, text)
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

func (e *countingEmbedder) Dimensions() int { return e.inner.Dimensions() }
func (e *countingEmbedder) Close() error    { return nil }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{inner: NewHashingEmbedder(16)}
	e := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	a1, err := e.Embed(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := e.Embed(ctx, "alpha")
	if inner.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", inner.calls)
	}
	if &a1[0] != &a2[0] {
		t.Error("expected cached slice to be returned")
	}

	vecs, err := e.EmbedBatch(ctx, []string{"alpha", "beta", "gamma"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	if inner.calls != 3 {
		t.Errorf("expected only misses to reach backend, calls=%d", inner.calls)
	}
	if e.Dimensions() != 16 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}
