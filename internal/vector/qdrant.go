package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// QdrantIndex is a REST client for one Qdrant collection. It creates the
// collection when missing and refuses to use one with another schema.
type QdrantIndex struct {
	baseURL string
	apiKey  string
	client  *http.Client
	schema  atomic.Pointer[Schema]
	seq     atomic.Int64
}

// QdrantConfig configures NewQdrantIndex.
type QdrantConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// NewQdrantIndex creates a client; no request is made until EnsureCollection.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	q := &QdrantIndex{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
	// Sequence numbers order entries across restarts for stable ties.
	q.seq.Store(time.Now().UnixNano())
	return q, nil
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(BackendQdrant)
}

type qdrantStatusError struct {
	method string
	path   string
	code   int
	body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s failed: status %d: %s", e.method, e.path, e.code, e.body)
}

// do sends body as JSON and decodes the response into out when non-nil.
func (q *QdrantIndex) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &qdrantStatusError{method: method, path: path, code: resp.StatusCode, body: strings.TrimSpace(string(b))}
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, serr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrIndexUnavailable, err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var serr *qdrantStatusError
	return errors.As(err, &serr) && serr.code == code
}

func (q *QdrantIndex) collectionPath(schema *Schema) string {
	return "/collections/" + url.PathEscape(schema.Collection)
}

func (q *QdrantIndex) current() (*Schema, error) {
	s := q.schema.Load()
	if s == nil {
		return nil, ErrNotInitialized
	}
	return s, nil
}

type qdrantCollectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureCollection looks the collection up and creates it only on 404.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	path := q.collectionPath(&schema)

	var info qdrantCollectionInfo
	err := q.do(ctx, http.MethodGet, path, nil, &info)
	switch {
	case err == nil:
		existing := Schema{
			Collection: schema.Collection,
			Dimensions: info.Result.Config.Params.Vectors.Size,
			Distance:   Distance(strings.ToLower(info.Result.Config.Params.Vectors.Distance)),
		}
		if err := schema.compatible(existing); err != nil {
			return err
		}
	case isStatus(err, http.StatusNotFound):
		create := map[string]any{
			"vectors": map[string]any{"size": schema.Dimensions, "distance": "Cosine"},
		}
		if err := q.do(ctx, http.MethodPut, path, create, nil); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
		index := map[string]any{"field_name": "document_id", "field_schema": "integer"}
		if err := q.do(ctx, http.MethodPut, path+"/index?wait=true", index, nil); err != nil {
			return fmt.Errorf("create payload index: %w", err)
		}
	default:
		return fmt.Errorf("get collection: %w", err)
	}
	q.schema.Store(&schema)
	return nil
}

type qdrantPayload struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
	Page       int    `json:"page"`
	Offset     int    `json:"offset"`
	Text       string `json:"text"`
	Seq        int64  `json:"seq"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector"`
	Payload qdrantPayload `json:"payload"`
}

// Upsert writes all entries in one request and waits for them to be applied.
func (q *QdrantIndex) Upsert(ctx context.Context, entries []Entry) error {
	schema, err := q.current()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	points := make([]qdrantPoint, len(entries))
	for i, e := range entries {
		if len(e.Vector) != schema.Dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrSchemaMismatch, len(e.Vector), schema.Dimensions)
		}
		points[i] = qdrantPoint{
			ID:     e.ID,
			Vector: e.Vector,
			Payload: qdrantPayload{
				DocumentID: e.Metadata.DocumentID,
				Filename:   e.Metadata.Filename,
				ChunkIndex: e.Metadata.ChunkIndex,
				Page:       e.Metadata.Page,
				Offset:     e.Metadata.Offset,
				Text:       e.Text,
				Seq:        q.seq.Add(1),
			},
		}
	}
	body := map[string]any{"points": points}
	return q.do(ctx, http.MethodPut, q.collectionPath(schema)+"/points?wait=true", body, nil)
}

type qdrantSearchResponse struct {
	Result []struct {
		ID      any           `json:"id"`
		Score   float64       `json:"score"`
		Payload qdrantPayload `json:"payload"`
	} `json:"result"`
}

// Search asks for twice the requested hits so ties at the cut-off can be
// resolved by insertion sequence.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	schema, err := q.current()
	if err != nil {
		return nil, err
	}
	if len(query) != schema.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrSchemaMismatch, len(query), schema.Dimensions)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        2 * k,
		"with_payload": true,
	}
	var resp qdrantSearchResponse
	if err := q.do(ctx, http.MethodPost, q.collectionPath(schema)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	type seqHit struct {
		hit Hit
		seq int64
	}
	ordered := make([]seqHit, len(resp.Result))
	for i, r := range resp.Result {
		p := r.Payload
		ordered[i] = seqHit{
			hit: Hit{
				ID:   fmt.Sprint(r.ID),
				Text: p.Text,
				Metadata: Metadata{
					DocumentID: p.DocumentID,
					Filename:   p.Filename,
					ChunkIndex: p.ChunkIndex,
					Page:       p.Page,
					Offset:     p.Offset,
				},
				Score: r.Score,
			},
			seq: p.Seq,
		}
	}
	// Put results in insertion order first; rankHits then keeps it for ties.
	sortBySeq(ordered, func(h seqHit) int64 { return h.seq })
	hits := make([]Hit, len(ordered))
	for i, o := range ordered {
		hits[i] = o.hit
	}
	return rankHits(hits, k), nil
}

// DeleteDocument removes points whose payload document_id matches.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	schema, err := q.current()
	if err != nil {
		return err
	}
	body := map[string]any{
		"filter": map[string]any{
			"must": []any{
				map[string]any{"key": "document_id", "match": map[string]any{"value": documentID}},
			},
		},
	}
	return q.do(ctx, http.MethodPost, q.collectionPath(schema)+"/points/delete?wait=true", body, nil)
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	schema, err := q.current()
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(schema)+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}
