package vector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgVectorIndex stores entries in PostgreSQL with the pgvector extension.
// Collections are registered in rag_collections so a restart can verify the
// stored dimension and distance before any write.
type PgVectorIndex struct {
	pool   *pgxpool.Pool
	schema atomic.Pointer[Schema]
}

// NewPgVectorIndex connects to dsn and pings the server.
func NewPgVectorIndex(ctx context.Context, dsn string) (*PgVectorIndex, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrIndexUnavailable, err)
	}
	return &PgVectorIndex{pool: pool}, nil
}

// Type returns the index type identifier.
func (p *PgVectorIndex) Type() string {
	return string(BackendPgVector)
}

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS rag_collections (
	name TEXT PRIMARY KEY,
	dimensions INTEGER NOT NULL,
	distance TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rag_chunks (
	id TEXT PRIMARY KEY,
	collection TEXT NOT NULL REFERENCES rag_collections(name),
	seq BIGSERIAL,
	document_id BIGINT NOT NULL,
	filename TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	page INTEGER NOT NULL,
	char_offset INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding vector NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rag_chunks_document ON rag_chunks(collection, document_id);
`

// EnsureCollection creates the tables and registry row if absent, then
// compares the registered schema with the configured one.
func (p *PgVectorIndex) EnsureCollection(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("%w: init schema: %w", ErrIndexUnavailable, err)
	}
	if _, err := p.pool.Exec(ctx,
		`INSERT INTO rag_collections (name, dimensions, distance) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		schema.Collection, schema.Dimensions, string(schema.Distance),
	); err != nil {
		return fmt.Errorf("%w: register collection: %w", ErrIndexUnavailable, err)
	}
	existing := Schema{Collection: schema.Collection}
	var distance string
	if err := p.pool.QueryRow(ctx,
		`SELECT dimensions, distance FROM rag_collections WHERE name = $1`, schema.Collection,
	).Scan(&existing.Dimensions, &distance); err != nil {
		return fmt.Errorf("%w: read collection: %w", ErrIndexUnavailable, err)
	}
	existing.Distance = Distance(distance)
	if err := schema.compatible(existing); err != nil {
		return err
	}
	p.schema.Store(&schema)
	return nil
}

func (p *PgVectorIndex) current() (*Schema, error) {
	s := p.schema.Load()
	if s == nil {
		return nil, ErrNotInitialized
	}
	return s, nil
}

// Upsert sends all entries in one batch inside a transaction.
func (p *PgVectorIndex) Upsert(ctx context.Context, entries []Entry) error {
	schema, err := p.current()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		if len(e.Vector) != schema.Dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrSchemaMismatch, len(e.Vector), schema.Dimensions)
		}
		batch.Queue(`
INSERT INTO rag_chunks (id, collection, document_id, filename, chunk_index, page, char_offset, content, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	document_id = EXCLUDED.document_id,
	filename = EXCLUDED.filename,
	chunk_index = EXCLUDED.chunk_index,
	page = EXCLUDED.page,
	char_offset = EXCLUDED.char_offset,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding`,
			e.ID, schema.Collection, e.Metadata.DocumentID, e.Metadata.Filename,
			e.Metadata.ChunkIndex, e.Metadata.Page, e.Metadata.Offset, e.Text,
			pgvector.NewVector(e.Vector),
		)
	}
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("%w: upsert: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Search orders by cosine distance, then by insertion sequence.
func (p *PgVectorIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	schema, err := p.current()
	if err != nil {
		return nil, err
	}
	if len(query) != schema.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d", ErrSchemaMismatch, len(query), schema.Dimensions)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, content, document_id, filename, chunk_index, page, char_offset, 1 - (embedding <=> $2) AS score
FROM rag_chunks
WHERE collection = $1
ORDER BY embedding <=> $2, seq
LIMIT $3`, schema.Collection, pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrIndexUnavailable, err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Text, &h.Metadata.DocumentID, &h.Metadata.Filename,
			&h.Metadata.ChunkIndex, &h.Metadata.Page, &h.Metadata.Offset, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: search rows: %w", ErrIndexUnavailable, err)
	}
	return hits, nil
}

// DeleteDocument removes a document's rows from the collection.
func (p *PgVectorIndex) DeleteDocument(ctx context.Context, documentID int64) error {
	schema, err := p.current()
	if err != nil {
		return err
	}
	if _, err := p.pool.Exec(ctx, `DELETE FROM rag_chunks WHERE collection = $1 AND document_id = $2`,
		schema.Collection, documentID); err != nil {
		return fmt.Errorf("%w: delete document: %w", ErrIndexUnavailable, err)
	}
	return nil
}

// Count returns the number of rows in the collection.
func (p *PgVectorIndex) Count(ctx context.Context) (int, error) {
	schema, err := p.current()
	if err != nil {
		return 0, err
	}
	var n int
	err = p.pool.QueryRow(ctx, `SELECT count(*) FROM rag_chunks WHERE collection = $1`, schema.Collection).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrIndexUnavailable, err)
	}
	return n, nil
}

// Close closes the connection pool.
func (p *PgVectorIndex) Close() error {
	p.pool.Close()
	return nil
}
