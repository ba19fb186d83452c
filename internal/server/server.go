// Package server provides the HTTP API for document upload, status and queries.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/ingest"
	"github.com/hyperjump/docrag/internal/models"
	"go.uber.org/zap"
)

// Ingester accepts uploaded batches.
type Ingester interface {
	IngestBatch(ctx context.Context, uploads []models.Upload) ([]ingest.Outcome, error)
	SubmitBatch(ctx context.Context, uploads []models.Upload) ([]ingest.Outcome, error)
	Pending() int
}

// Querier answers questions.
type Querier interface {
	Query(ctx context.Context, text string) (*models.QueryResult, error)
}

// DocumentReader reads document records.
type DocumentReader interface {
	GetByID(ctx context.Context, id int64) (*models.Document, error)
	ListDocuments(ctx context.Context, limit, offset int) ([]*models.Document, error)
	CountAll(ctx context.Context) (int, error)
}

// Counter reports the number of entries in the vector index.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Deps are the components the API serves.
type Deps struct {
	Ingester  Ingester
	Querier   Querier
	Documents DocumentReader
	Index     Counter
}

// StatusInfo is static configuration reported by GET /api/v1/status.
type StatusInfo struct {
	Version             string   `json:"version,omitempty"`
	EmbeddingProvider   string   `json:"embedding_provider"`
	EmbeddingDimensions int      `json:"embedding_dimensions"`
	VectorBackend       string   `json:"vector_backend"`
	Collection          string   `json:"collection"`
	LLMModel            string   `json:"llm_model"`
	ChunkSize           int      `json:"chunk_size"`
	ChunkOverlap        int      `json:"chunk_overlap"`
	TopK                int      `json:"top_k"`
	Async               bool     `json:"async"`
	DiskPaths           []string `json:"-"`
}

// Server is the HTTP server.
type Server struct {
	deps   Deps
	config *config.ServerConfig
	info   StatusInfo
	async  bool
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server. When async is true uploads are queued and
// answered with 202; otherwise they are processed before responding.
func NewServer(deps Deps, cfg *config.ServerConfig, info StatusInfo, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		deps:   deps,
		config: cfg,
		info:   info,
		async:  info.Async,
		logger: logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}

	r.Get("/", s.handleWelcome)
	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Post("/query", s.handleQuery)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", zap.String("addr", addr), zap.Bool("async", s.async))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
