package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/docrag/internal/ingest"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/storage"
	"go.uber.org/zap"
)

const (
	multipartMemory = 32 << 20
	defaultPageSize = 50
	maxPageSize     = 500
)

type uploadError struct {
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

type uploadResponse struct {
	Documents []*models.Document `json:"documents"`
	Errors    []uploadError      `json:"errors,omitempty"`
}

func (s *Server) handleWelcome(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the document RAG API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		files = r.MultipartForm.File["files"]
	}
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "no files provided")
		return
	}
	uploads := make([]models.Upload, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "cannot read uploaded file")
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "cannot read uploaded file")
			return
		}
		uploads = append(uploads, models.Upload{Filename: filepath.Base(fh.Filename), Content: content})
	}
	s.logger.Debug("upload request", zap.Int("files", len(uploads)), zap.Bool("async", s.async))

	var (
		outcomes []ingest.Outcome
		err      error
	)
	if s.async {
		outcomes, err = s.deps.Ingester.SubmitBatch(r.Context(), uploads)
	} else {
		outcomes, err = s.deps.Ingester.IngestBatch(r.Context(), uploads)
	}
	if err != nil {
		s.respondIngestError(w, err)
		return
	}

	resp := uploadResponse{Documents: []*models.Document{}}
	status := http.StatusCreated
	if s.async {
		status = http.StatusAccepted
	}
	var validationFailures, otherFailures int
	for _, o := range outcomes {
		if o.Document != nil {
			resp.Documents = append(resp.Documents, o.Document)
		}
		if o.Err == nil {
			continue
		}
		kind := ingest.KindOf(o.Err)
		resp.Errors = append(resp.Errors, uploadError{Filename: o.Filename, Kind: kind.String(), Error: o.Err.Error()})
		if kind == ingest.KindValidation {
			validationFailures++
		} else {
			otherFailures++
		}
	}
	switch {
	case otherFailures > 0:
		status = http.StatusInternalServerError
	case validationFailures > 0:
		status = http.StatusBadRequest
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) respondIngestError(w http.ResponseWriter, err error) {
	switch ingest.KindOf(err) {
	case ingest.KindValidation:
		s.respondError(w, http.StatusBadRequest, err.Error())
	case ingest.KindUnavailable:
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	docs, err := s.deps.Documents.ListDocuments(r.Context(), min(limit, maxPageSize), offset)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.deps.Documents.CountAll(r.Context())
	if err != nil {
		s.logger.Error("count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": total})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	doc, err := s.deps.Documents.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get document failed", zap.Int64("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query))
	result, err := s.deps.Querier.Query(r.Context(), req.Query)
	if err != nil {
		status := queryErrorStatus(err)
		if status >= 500 {
			s.logger.Error("query failed", zap.Int("status", status), zap.Error(err))
		}
		s.respondError(w, status, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// queryErrorStatus maps a query failure to an HTTP status: bad input is a
// client error, a timed-out dependency 504, an unreachable one 502.
func queryErrorStatus(err error) int {
	var qerr *rag.QueryError
	if errors.As(err, &qerr) && qerr.Step == rag.StepValidate {
		return http.StatusBadRequest
	}
	if errors.Is(err, models.ErrInvalidQuery) {
		return http.StatusBadRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.deps.Documents.CountAll(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"documents": docCount,
		"pending":   s.deps.Ingester.Pending(),
		"config":    s.info,
	}
	if n, err := s.deps.Index.Count(ctx); err == nil {
		resp["vector_entries"] = n
	} else {
		s.logger.Warn("status: vector index count failed", zap.Error(err))
		resp["vector_index_error"] = err.Error()
	}
	if len(s.info.DiskPaths) > 0 {
		if n, err := storage.DiskUsageBytes(s.info.DiskPaths...); err == nil {
			resp["disk_usage_bytes"] = n
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
