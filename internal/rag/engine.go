// Package rag answers questions from indexed documents: it embeds the query,
// retrieves the closest chunks, and asks a language model to answer from them.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/llm"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/vector"
	"go.uber.org/zap"
)

const (
	// DefaultTopK is the number of chunks placed in the prompt.
	DefaultTopK = 3
	// DefaultContextBudget bounds the context size in runes.
	DefaultContextBudget = 12000
	// candidateFactor over-fetches so that chunks of unfinished documents
	// can be dropped without returning fewer than K sources.
	candidateFactor = 4
)

// Step names the query stage an error came from.
type Step string

const (
	StepValidate Step = "validate"
	StepEmbed    Step = "embed"
	StepSearch   Step = "search"
	StepFilter   Step = "filter"
	StepGenerate Step = "generate"
)

// QueryError is a failed query classified by step.
type QueryError struct {
	Step Step
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed at %s: %v", e.Step, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// StatusSource reports document statuses for a set of ids.
type StatusSource interface {
	Statuses(ctx context.Context, ids []int64) (map[int64]models.Status, error)
}

// Deps are the collaborators an Engine uses. All are required.
type Deps struct {
	Embedder  embedding.Embedder
	Index     vector.Index
	Statuses  StatusSource
	Generator llm.Generator
}

// Engine runs retrieval-augmented queries.
type Engine struct {
	embedder  embedding.Embedder
	index     vector.Index
	statuses  StatusSource
	generator llm.Generator

	topK    int
	budget  int
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets how many chunks are placed in the prompt.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithContextBudget caps the prompt context in runes. Lower ranked chunks
// that do not fit are left out of the prompt and the sources.
func WithContextBudget(runes int) Option {
	return func(e *Engine) {
		if runes > 0 {
			e.budget = runes
		}
	}
}

// WithTimeout bounds a whole query.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a query engine.
func NewEngine(deps Deps, opts ...Option) (*Engine, error) {
	switch {
	case deps.Embedder == nil:
		return nil, errors.New("rag: embedder is required")
	case deps.Index == nil:
		return nil, errors.New("rag: vector index is required")
	case deps.Statuses == nil:
		return nil, errors.New("rag: status source is required")
	case deps.Generator == nil:
		return nil, errors.New("rag: generator is required")
	}
	e := &Engine{
		embedder:  deps.Embedder,
		index:     deps.Index,
		statuses:  deps.Statuses,
		generator: deps.Generator,
		topK:      DefaultTopK,
		budget:    DefaultContextBudget,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Query answers text from the indexed documents. An empty index is not an
// error: the model is still asked and the result has no sources. Sources
// are exactly the chunks placed in the prompt, in descending score order,
// and all belong to COMPLETED documents.
func (e *Engine) Query(ctx context.Context, text string) (*models.QueryResult, error) {
	start := time.Now()
	req := models.QueryRequest{Query: text}
	if err := req.Validate(); err != nil {
		return nil, &QueryError{Step: StepValidate, Err: err}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	queryVec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, &QueryError{Step: StepEmbed, Err: err}
	}
	if len(queryVec) != e.embedder.Dimensions() {
		return nil, &QueryError{Step: StepEmbed, Err: fmt.Errorf("%w: query vector has %d dimensions, want %d",
			embedding.ErrEmbeddingUnavailable, len(queryVec), e.embedder.Dimensions())}
	}

	hits, err := e.index.Search(ctx, queryVec, e.topK*candidateFactor)
	if err != nil {
		return nil, &QueryError{Step: StepSearch, Err: err}
	}
	hits, err = e.completedOnly(ctx, hits)
	if err != nil {
		return nil, &QueryError{Step: StepFilter, Err: err}
	}
	sources := e.selectSources(hits)

	answer, err := e.generator.Generate(ctx, BuildPrompt(req.Query, BuildContext(sources)))
	if err != nil {
		return nil, &QueryError{Step: StepGenerate, Err: err}
	}

	result := &models.QueryResult{
		Answer:    answer,
		Sources:   sources,
		Model:     e.generator.Model(),
		QueryTime: time.Since(start).Milliseconds(),
	}
	e.logger.Info("query answered",
		zap.Int("sources", len(sources)),
		zap.Int("candidates", len(hits)),
		zap.Int64("took_ms", result.QueryTime),
	)
	return result, nil
}

// completedOnly drops hits whose document is not COMPLETED, keeping order.
func (e *Engine) completedOnly(ctx context.Context, hits []vector.Hit) ([]vector.Hit, error) {
	if len(hits) == 0 {
		return hits, nil
	}
	seen := make(map[int64]bool)
	var ids []int64
	for _, h := range hits {
		if !seen[h.Metadata.DocumentID] {
			seen[h.Metadata.DocumentID] = true
			ids = append(ids, h.Metadata.DocumentID)
		}
	}
	statuses, err := e.statuses.Statuses(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := make([]vector.Hit, 0, len(hits))
	for _, h := range hits {
		if statuses[h.Metadata.DocumentID] == models.StatusCompleted {
			kept = append(kept, h)
		}
	}
	if dropped := len(hits) - len(kept); dropped > 0 {
		e.logger.Debug("dropped chunks of unfinished documents", zap.Int("dropped", dropped))
	}
	return kept, nil
}

// selectSources takes the top K hits that fit in the context budget.
func (e *Engine) selectSources(hits []vector.Hit) []*models.Source {
	sources := make([]*models.Source, 0, min(len(hits), e.topK))
	used := 0
	for _, h := range hits {
		if len(sources) == e.topK {
			break
		}
		n := utf8.RuneCountInString(h.Text)
		if len(sources) > 0 {
			n += utf8.RuneCountInString(ContextSeparator)
		}
		if used+n > e.budget && len(sources) > 0 {
			break
		}
		used += n
		sources = append(sources, &models.Source{
			Content: h.Text,
			Metadata: models.SourceMetadata{
				DocumentID: h.Metadata.DocumentID,
				Filename:   h.Metadata.Filename,
				Page:       h.Metadata.Page,
				ChunkIndex: h.Metadata.ChunkIndex,
				Offset:     h.Metadata.Offset,
			},
			Score: h.Score,
		})
	}
	return sources
}
