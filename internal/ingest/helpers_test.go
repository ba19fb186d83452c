package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docrag/internal/chunker"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/storage"
	"github.com/hyperjump/docrag/internal/vector"
)

const testDims = 64

type testEnv struct {
	pipeline *Pipeline
	store    *recordingStore
	index    *flakyIndex
	embedder *countingEmbedder
	tempDir  string
}

func newTestEnv(t *testing.T, mutate func(*Options, *Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := storage.NewSQLiteStore(filepath.Join(dir, "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	mem := vector.NewMemoryIndex()
	require.NoError(t, mem.EnsureCollection(context.Background(),
		vector.Schema{Collection: "test", Dimensions: testDims, Distance: vector.DistanceCosine}))

	ch, err := chunker.New(200, 40)
	require.NoError(t, err)

	env := &testEnv{
		store:    &recordingStore{Store: sqlite},
		index:    &flakyIndex{Index: mem},
		embedder: &countingEmbedder{Embedder: embedding.NewHashingEmbedder(testDims)},
		tempDir:  filepath.Join(dir, "uploads"),
	}
	deps := Deps{
		Store:    env.store,
		Parser:   extract.NewExtractor(),
		Chunker:  ch,
		Embedder: env.embedder,
		Index:    env.index,
	}
	opts := Options{
		MaxDocuments:        20,
		MaxPagesPerDocument: 1000,
		MaxDocumentBytes:    1 << 20,
		Workers:             4,
		QueueSize:           16,
		TempDir:             env.tempDir,
	}
	if mutate != nil {
		mutate(&opts, &deps)
	}
	env.pipeline, err = New(deps, opts)
	require.NoError(t, err)
	return env
}

// tempFiles lists files left in the upload directory.
func (e *testEnv) tempFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, en := range entries {
		names[i] = en.Name()
	}
	return names
}

// entriesFor returns every index entry belonging to documentID.
func (e *testEnv) entriesFor(t *testing.T, documentID int64) []vector.Hit {
	t.Helper()
	ctx := context.Background()
	n, err := e.index.Count(ctx)
	require.NoError(t, err)
	q, err := e.embedder.Embed(ctx, "anything")
	require.NoError(t, err)
	hits, err := e.index.Search(ctx, q, n)
	require.NoError(t, err)
	var out []vector.Hit
	for _, h := range hits {
		if h.Metadata.DocumentID == documentID {
			out = append(out, h)
		}
	}
	return out
}

func textUpload(name string, paragraphs int) models.Upload {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("The sky is blue and the grass is green. Rivers run down to the sea. ")
	}
	return models.Upload{Filename: name, Content: []byte(b.String())}
}

// recordingStore records every SetStatus call.
type recordingStore struct {
	storage.Store
	mu          sync.Mutex
	transitions map[int64][]models.Status
}

func (s *recordingStore) SetStatus(ctx context.Context, id int64, status models.Status, cause string) error {
	err := s.Store.SetStatus(ctx, id, status, cause)
	if err == nil {
		s.mu.Lock()
		if s.transitions == nil {
			s.transitions = make(map[int64][]models.Status)
		}
		s.transitions[id] = append(s.transitions[id], status)
		s.mu.Unlock()
	}
	return err
}

func (s *recordingStore) history(id int64) []models.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Status(nil), s.transitions[id]...)
}

// countingEmbedder counts batch calls and can be told to fail or block.
type countingEmbedder struct {
	embedding.Embedder
	calls atomic.Int32
	fail  atomic.Bool
	block atomic.Bool
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.block.Load() {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.fail.Load() {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	return e.Embedder.EmbedBatch(ctx, texts)
}

// flakyIndex fails upserts after a number of successful calls.
type flakyIndex struct {
	vector.Index
	upserts     atomic.Int32
	failAfter   atomic.Int32 // 0 means never fail
	failDeletes atomic.Bool
	flushes     atomic.Int32
	failFlush   atomic.Bool
}

func (f *flakyIndex) Flush(ctx context.Context) error {
	f.flushes.Add(1)
	if f.failFlush.Load() {
		return errors.New("disk full")
	}
	if fl, ok := f.Index.(vector.Flusher); ok {
		return fl.Flush(ctx)
	}
	return nil
}

func (f *flakyIndex) Upsert(ctx context.Context, entries []vector.Entry) error {
	n := f.upserts.Add(1)
	if limit := f.failAfter.Load(); limit > 0 && n > limit {
		return vector.ErrIndexUnavailable
	}
	return f.Index.Upsert(ctx, entries)
}

func (f *flakyIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	if f.failDeletes.Load() {
		return vector.ErrIndexUnavailable
	}
	return f.Index.DeleteDocument(ctx, documentID)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
