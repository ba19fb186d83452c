// Package ingest takes uploaded documents through parse, chunk, embed and
// index, and owns every document's PROCESSING -> COMPLETED/FAILED transition.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/hyperjump/docrag/internal/chunker"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/ids"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/storage"
	"github.com/hyperjump/docrag/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	embedBatchSize  = 32
	upsertBatchSize = 128
	// finalizeTimeout bounds the status write and compensating delete, which
	// run even after the request context is gone.
	finalizeTimeout = 10 * time.Second
)

// Parser extracts page text from raw document bytes.
type Parser interface {
	Supported(filename string) bool
	Extract(filename string, content []byte) ([]models.Page, error)
	PageCount(filename string, content []byte) (int, error)
}

// Deps are the collaborators a Pipeline drives. All are required.
type Deps struct {
	Store    storage.Store
	Parser   Parser
	Chunker  *chunker.Chunker
	Embedder embedding.Embedder
	Index    vector.Index
}

// Options holds admission limits and worker settings. Zero limits are unbounded.
type Options struct {
	MaxDocuments        int
	MaxPagesPerDocument int
	MaxDocumentBytes    int64
	MaxTotalDocuments   int
	Extensions          []string
	Workers             int
	QueueSize           int
	StepTimeout         time.Duration
	TempDir             string
}

// OptionsFrom maps the ingest config section and upload directory to Options.
func OptionsFrom(cfg config.IngestConfig, tempDir string) Options {
	return Options{
		MaxDocuments:        cfg.MaxDocuments,
		MaxPagesPerDocument: cfg.MaxPagesPerDocument,
		MaxDocumentBytes:    cfg.MaxDocumentBytes,
		MaxTotalDocuments:   cfg.MaxTotalDocuments,
		Extensions:          cfg.Extensions,
		Workers:             cfg.Workers,
		QueueSize:           cfg.QueueSize,
		StepTimeout:         cfg.StepTimeout,
		TempDir:             tempDir,
	}
}

// Outcome is the result of one document of a batch.
type Outcome struct {
	Filename string
	Document *models.Document
	Err      error
}

// Pipeline runs document ingestion.
type Pipeline struct {
	store    storage.Store
	parser   Parser
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	index    vector.Index
	opts     Options
	pool     *Pool
	logger   *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline. Background workers for Submit start with Start.
func New(deps Deps, opts Options, options ...Option) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("ingest: store is required")
	case deps.Parser == nil:
		return nil, errors.New("ingest: parser is required")
	case deps.Chunker == nil:
		return nil, errors.New("ingest: chunker is required")
	case deps.Embedder == nil:
		return nil, errors.New("ingest: embedder is required")
	case deps.Index == nil:
		return nil, errors.New("ingest: vector index is required")
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	p := &Pipeline{
		store:    deps.Store,
		parser:   deps.Parser,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		index:    deps.Index,
		opts:     opts,
		logger:   zap.NewNop(),
	}
	for _, o := range options {
		o(p)
	}
	p.pool = NewPool(opts.Workers, opts.QueueSize, p.logger)
	return p, nil
}

// Start launches the background workers used by Submit.
func (p *Pipeline) Start() {
	p.pool.Start()
}

// Shutdown stops accepting submissions and drains queued work.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.pool.Shutdown(ctx)
}

// Pending returns the number of submitted documents waiting for a worker.
func (p *Pipeline) Pending() int {
	return p.pool.Pending()
}

// Admit validates a batch against the configured limits. It runs before any
// record is created or any chunking starts; a single violation rejects the
// whole batch. Unparseable documents are not rejected here: they fail
// individually at the parse step.
func (p *Pipeline) Admit(ctx context.Context, uploads []models.Upload) error {
	if len(uploads) == 0 {
		return validation(StepAdmission, fmt.Errorf("%w: no files", ErrEmptyDocument))
	}
	if p.opts.MaxDocuments > 0 && len(uploads) > p.opts.MaxDocuments {
		return validation(StepAdmission, fmt.Errorf("%w: %d files, limit %d", ErrTooManyDocuments, len(uploads), p.opts.MaxDocuments))
	}
	for _, u := range uploads {
		if err := p.admitOne(u); err != nil {
			return validation(StepAdmission, fmt.Errorf("%s: %w", u.Filename, err))
		}
	}
	if p.opts.MaxTotalDocuments > 0 {
		n, err := p.store.CountAll(ctx)
		if err != nil {
			return &Error{Kind: KindUnavailable, Step: StepAdmission, Err: fmt.Errorf("count documents: %w", err)}
		}
		if n+len(uploads) > p.opts.MaxTotalDocuments {
			return validation(StepAdmission, fmt.Errorf("%w: %d stored + %d new > %d", ErrCapacityExceeded, n, len(uploads), p.opts.MaxTotalDocuments))
		}
	}
	return nil
}

func (p *Pipeline) admitOne(u models.Upload) error {
	if strings.TrimSpace(u.Filename) == "" || len(u.Content) == 0 {
		return ErrEmptyDocument
	}
	if !p.allowed(u.Filename) {
		return fmt.Errorf("%w: %q", ErrExtensionNotAllowed, extract.Ext(u.Filename))
	}
	if p.opts.MaxDocumentBytes > 0 && int64(len(u.Content)) > p.opts.MaxDocumentBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrDocumentTooLarge, len(u.Content), p.opts.MaxDocumentBytes)
	}
	if p.opts.MaxPagesPerDocument > 0 {
		if n, err := p.parser.PageCount(u.Filename, u.Content); err == nil && n > p.opts.MaxPagesPerDocument {
			return fmt.Errorf("%w: %d pages, limit %d", ErrDocumentTooLarge, n, p.opts.MaxPagesPerDocument)
		}
	}
	return nil
}

// Accepts reports whether filename has a type the pipeline will ingest.
func (p *Pipeline) Accepts(filename string) bool {
	return p.allowed(filename)
}

func (p *Pipeline) allowed(filename string) bool {
	if !p.parser.Supported(filename) {
		return false
	}
	if len(p.opts.Extensions) == 0 {
		return true
	}
	ext := extract.Ext(filename)
	return slices.ContainsFunc(p.opts.Extensions, func(a string) bool {
		return strings.EqualFold(strings.TrimPrefix(a, "."), strings.TrimPrefix(ext, "."))
	})
}

// Ingest admits and synchronously ingests one document. The returned
// document carries its terminal status. A parse failure returns a
// validation error and creates no record.
func (p *Pipeline) Ingest(ctx context.Context, u models.Upload) (*models.Document, error) {
	if err := p.Admit(ctx, []models.Upload{u}); err != nil {
		return nil, err
	}
	return p.ingestAdmitted(ctx, u)
}

// IngestBatch admits the whole batch, then ingests documents concurrently
// with at most Workers in flight. Outcomes are in input order. The error is
// non-nil only when admission rejected the batch.
func (p *Pipeline) IngestBatch(ctx context.Context, uploads []models.Upload) ([]Outcome, error) {
	if err := p.Admit(ctx, uploads); err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(uploads))
	var g errgroup.Group
	g.SetLimit(max(p.opts.Workers, 1))
	for i, u := range uploads {
		g.Go(func() error {
			doc, err := p.ingestAdmitted(ctx, u)
			outcomes[i] = Outcome{Filename: u.Filename, Document: doc, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

// IngestFile reads a local file and ingests it under its base name.
func (p *Pipeline) IngestFile(ctx context.Context, path string) (*models.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, validation(StepAdmission, err)
	}
	if !info.Mode().IsRegular() {
		return nil, validation(StepAdmission, fmt.Errorf("not a regular file: %s", path))
	}
	if p.opts.MaxDocumentBytes > 0 && info.Size() > p.opts.MaxDocumentBytes {
		return nil, validation(StepAdmission, fmt.Errorf("%s: %w: %d bytes, limit %d", path, ErrDocumentTooLarge, info.Size(), p.opts.MaxDocumentBytes))
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, validation(StepAdmission, fmt.Errorf("read file: %w", err))
	}
	return p.Ingest(ctx, models.Upload{Filename: filepath.Base(path), Content: content})
}

func (p *Pipeline) ingestAdmitted(ctx context.Context, u models.Upload) (*models.Document, error) {
	path, release, err := spool(p.opts.TempDir, u.Filename, u.Content, p.logger)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Step: StepParse, Err: err}
	}
	defer release()

	pages, err := p.parse(path, u.Filename)
	if err != nil {
		p.logger.Info("document rejected", zap.String("filename", u.Filename), zap.Error(err))
		return nil, validation(StepParse, err)
	}
	doc, err := p.store.CreateDocument(ctx, u.Filename)
	if err != nil {
		return nil, &Error{Kind: KindProcessing, Step: StepRecord, Err: err}
	}
	return p.process(ctx, doc, pages)
}

// Submit admits one document, spools it to disk, creates its PROCESSING
// record and queues the rest of the work. The returned record is a snapshot
// to poll by id. Parse failures surface later as a FAILED status.
func (p *Pipeline) Submit(ctx context.Context, u models.Upload) (*models.Document, error) {
	if err := p.Admit(ctx, []models.Upload{u}); err != nil {
		return nil, err
	}
	return p.submitAdmitted(ctx, u)
}

// SubmitBatch is Submit for a batch admitted as a whole.
func (p *Pipeline) SubmitBatch(ctx context.Context, uploads []models.Upload) ([]Outcome, error) {
	if err := p.Admit(ctx, uploads); err != nil {
		return nil, err
	}
	outcomes := make([]Outcome, len(uploads))
	for i, u := range uploads {
		doc, err := p.submitAdmitted(ctx, u)
		outcomes[i] = Outcome{Filename: u.Filename, Document: doc, Err: err}
	}
	return outcomes, nil
}

func (p *Pipeline) submitAdmitted(ctx context.Context, u models.Upload) (*models.Document, error) {
	path, release, err := spool(p.opts.TempDir, u.Filename, u.Content, p.logger)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Step: StepParse, Err: err}
	}
	doc, err := p.store.CreateDocument(ctx, u.Filename)
	if err != nil {
		release()
		return nil, &Error{Kind: KindProcessing, Step: StepRecord, Err: err}
	}
	snapshot := *doc

	err = p.pool.Enqueue(func(ctx context.Context) {
		defer release()
		pages, err := p.parse(path, doc.Filename)
		if err != nil {
			_, _ = p.finalize(ctx, doc, &Error{Kind: KindValidation, Step: StepParse, Err: err})
			return
		}
		_, _ = p.process(ctx, doc, pages)
	})
	if err != nil {
		release()
		qerr := &Error{Kind: KindUnavailable, Step: StepQueue, Err: err}
		failedDoc, _ := p.finalize(ctx, doc, qerr)
		return failedDoc, qerr
	}
	p.logger.Debug("document queued", zap.Int64("document_id", doc.ID), zap.String("filename", doc.Filename))
	return &snapshot, nil
}

// parse reads the spooled upload and extracts non-empty pages.
func (p *Pipeline) parse(path, filename string) ([]models.Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spooled upload: %w", err)
	}
	pages, err := p.parser.Extract(filename, content)
	if err != nil {
		return nil, err
	}
	if p.opts.MaxPagesPerDocument > 0 && len(pages) > p.opts.MaxPagesPerDocument {
		return nil, fmt.Errorf("%w: %d pages, limit %d", ErrDocumentTooLarge, len(pages), p.opts.MaxPagesPerDocument)
	}
	for i := range pages {
		pages[i].Text = chunker.Preprocess(pages[i].Text)
	}
	if !slices.ContainsFunc(pages, func(pg models.Page) bool { return strings.TrimSpace(pg.Text) != "" }) {
		return nil, ErrNoContent
	}
	return pages, nil
}

// process runs chunk -> embed -> index for a document that already has a
// PROCESSING record and records the terminal status.
func (p *Pipeline) process(ctx context.Context, doc *models.Document, pages []models.Page) (*models.Document, error) {
	start := time.Now()
	chunks := p.chunk(doc, pages)
	embedded := then(chunks, func(cs []models.Chunk) result[[]models.Chunk] { return p.embed(ctx, cs) })
	indexed := then(embedded, func(cs []models.Chunk) result[int] { return p.upsert(ctx, doc.ID, cs) })

	out, err := p.finalize(ctx, doc, indexed.err)
	if err == nil {
		p.logger.Info("document ingested",
			zap.Int64("document_id", doc.ID),
			zap.String("filename", doc.Filename),
			zap.Int("chunks", indexed.value),
			zap.Duration("took", time.Since(start)),
		)
	}
	return out, err
}

func (p *Pipeline) chunk(doc *models.Document, pages []models.Page) result[[]models.Chunk] {
	var chunks []models.Chunk
	for ch := range p.chunker.Pages(pages) {
		ch.DocumentID = doc.ID
		ch.Filename = doc.Filename
		chunks = append(chunks, ch)
	}
	if len(chunks) == 0 {
		return failed[[]models.Chunk](StepChunk, ErrNoContent)
	}
	return ok(chunks)
}

// embed fills chunk embeddings in chunk order. Any failed batch fails the
// document before anything is indexed.
func (p *Pipeline) embed(ctx context.Context, chunks []models.Chunk) result[[]models.Chunk] {
	for start := 0; start < len(chunks); start += embedBatchSize {
		batch := chunks[start:min(start+embedBatchSize, len(chunks))]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vecs, err := withTimeout(ctx, p.opts.StepTimeout, func(ctx context.Context) ([][]float32, error) {
			return p.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return failed[[]models.Chunk](StepEmbed, err)
		}
		if len(vecs) != len(batch) {
			return failed[[]models.Chunk](StepEmbed, fmt.Errorf("%w: got %d vectors for %d chunks", embedding.ErrEmbeddingUnavailable, len(vecs), len(batch)))
		}
		for i := range batch {
			batch[i].Embedding = vecs[i]
		}
	}
	return ok(chunks)
}

// upsert writes entries in chunk order and flushes indexes that buffer
// writes, so COMPLETED is only recorded for durable entries. On failure the
// entries already written for the document are deleted.
func (p *Pipeline) upsert(ctx context.Context, documentID int64, chunks []models.Chunk) result[int] {
	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = vector.Entry{
			ID:     ids.ChunkID(documentID, ch.Index),
			Vector: ch.Embedding,
			Text:   ch.Text,
			Metadata: vector.Metadata{
				DocumentID: documentID,
				Filename:   ch.Filename,
				ChunkIndex: ch.Index,
				Page:       ch.Page,
				Offset:     ch.Offset,
			},
		}
	}
	for start := 0; start < len(entries); start += upsertBatchSize {
		batch := entries[start:min(start+upsertBatchSize, len(entries))]
		_, err := withTimeout(ctx, p.opts.StepTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.index.Upsert(ctx, batch)
		})
		if err != nil {
			p.compensate(ctx, documentID)
			return failed[int](StepIndex, err)
		}
	}
	if f, flushes := p.index.(vector.Flusher); flushes {
		_, err := withTimeout(ctx, p.opts.StepTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, f.Flush(ctx)
		})
		if err != nil {
			p.compensate(ctx, documentID)
			return failed[int](StepIndex, fmt.Errorf("flush index: %w", err))
		}
	}
	return ok(len(entries))
}

// compensate removes a failed document's entries. If it cannot, the
// entries stay excluded from queries because the document is not COMPLETED.
func (p *Pipeline) compensate(ctx context.Context, documentID int64) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := p.index.DeleteDocument(cctx, documentID); err != nil {
		p.logger.Error("compensating delete failed, entries remain excluded from queries",
			zap.Int64("document_id", documentID), zap.Error(err))
		return
	}
	if f, flushes := p.index.(vector.Flusher); flushes {
		if err := f.Flush(cctx); err != nil {
			p.logger.Warn("flush after compensating delete failed",
				zap.Int64("document_id", documentID), zap.Error(err))
		}
	}
}

// finalize records the terminal status. It runs on a context detached from
// ctx's cancellation so a timed-out or cancelled run still ends FAILED.
func (p *Pipeline) finalize(ctx context.Context, doc *models.Document, runErr *Error) (*models.Document, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	status, cause := models.StatusCompleted, ""
	if runErr != nil {
		runErr.DocumentID = doc.ID
		status, cause = models.StatusFailed, runErr.Err.Error()
	}
	if err := p.store.SetStatus(fctx, doc.ID, status, cause); err != nil {
		p.logger.Error("failed to record document status",
			zap.Int64("document_id", doc.ID), zap.String("status", string(status)), zap.Error(err))
		if runErr == nil {
			p.compensate(ctx, doc.ID)
			runErr = &Error{Kind: KindProcessing, Step: StepFinalize, DocumentID: doc.ID, Err: err}
		}
		out := *doc
		return &out, runErr
	}

	out := *doc
	out.Status = status
	out.Error = cause
	out.UpdatedAt = time.Now().UTC()
	if runErr != nil {
		p.logger.Error("document ingestion failed",
			zap.Int64("document_id", doc.ID),
			zap.String("filename", doc.Filename),
			zap.String("step", string(runErr.Step)),
			zap.Error(runErr.Err),
		)
		return &out, runErr
	}
	return &out, nil
}

// withTimeout runs fn under d. A zero d leaves ctx unchanged.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return fn(ctx)
}
