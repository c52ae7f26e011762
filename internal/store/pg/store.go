// Package pg is the relational side of the service: document and chunk
// rows in Postgres, with pgvector carrying the embeddings.
package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/internal/domain"
)

const uniqueViolation = "23505"

type Store struct {
	pool      *pgxpool.Pool
	dimension int
	logger    zerolog.Logger
}

// New connects, bootstraps the schema, and returns the store. The vector
// dimension is fixed at schema creation.
func New(ctx context.Context, dsn string, maxConns, dimension int, logger zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse DSN: %v", domain.ErrStoreFailed, err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrStoreFailed, err)
	}

	store := &Store{
		pool:      pool,
		dimension: dimension,
		logger:    logger.With().Str("component", "pg-store").Logger(),
	}

	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	uuid UUID NOT NULL UNIQUE,
	filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	chunk_count INT NOT NULL DEFAULT 0,
	uploaded_by TEXT NOT NULL,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	uploaded_via TEXT NOT NULL DEFAULT 'api',
	user_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	summary TEXT,
	keywords TEXT[],
	token_count INT
);

CREATE TABLE IF NOT EXISTS chunks (
	id BIGSERIAL PRIMARY KEY,
	document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INT NOT NULL,
	start_char INT NOT NULL DEFAULT 0,
	end_char INT NOT NULL DEFAULT 0,
	embedding vector(%d) NOT NULL,
	UNIQUE (document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
	ON chunks USING hnsw (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS documents_user_metadata_idx
	ON documents USING gin (user_metadata);
CREATE INDEX IF NOT EXISTS documents_keywords_idx
	ON documents USING gin (keywords);
CREATE INDEX IF NOT EXISTS documents_uploaded_by_idx ON documents (uploaded_by);
CREATE INDEX IF NOT EXISTS documents_uploaded_at_idx ON documents (uploaded_at);
CREATE INDEX IF NOT EXISTS documents_mime_type_idx ON documents (mime_type);
CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash);
`, s.dimension)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure schema: %v", domain.ErrStoreFailed, err)
	}
	return nil
}

const documentColumns = `id, uuid::text, filename, mime_type, size_bytes, content_hash,
	chunk_count, uploaded_by, uploaded_at, uploaded_via, user_metadata,
	COALESCE(summary, ''), COALESCE(keywords, '{}'), COALESCE(token_count, 0)`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var doc domain.Document
	err := row.Scan(
		&doc.ID, &doc.UUID, &doc.Filename, &doc.MimeType, &doc.SizeBytes,
		&doc.ContentHash, &doc.ChunkCount, &doc.UploadedBy, &doc.UploadedAt,
		&doc.UploadedVia, &doc.UserMetadata, &doc.Summary, &doc.Keywords,
		&doc.TokenCount,
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE content_hash = $1`, documentColumns)
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find by hash: %v", domain.ErrStoreFailed, err)
	}
	return doc, nil
}

// InsertDocument writes the row and fills in doc.ID. The caller assigns
// the UUID beforehand so blob keys exist before the row commits.
func (s *Store) InsertDocument(ctx context.Context, doc *domain.Document) error {
	err := s.pool.QueryRow(ctx, `
INSERT INTO documents (uuid, filename, mime_type, size_bytes, content_hash,
	uploaded_by, uploaded_at, uploaded_via, user_metadata, summary, keywords, token_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		doc.UUID, doc.Filename, doc.MimeType, doc.SizeBytes, doc.ContentHash,
		doc.UploadedBy, doc.UploadedAt, doc.UploadedVia, doc.UserMetadata,
		nullIfEmpty(doc.Summary), doc.Keywords, doc.TokenCount,
	).Scan(&doc.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: content hash %s", domain.ErrDuplicateHash, doc.ContentHash)
		}
		return fmt.Errorf("%w: insert document: %v", domain.ErrStoreFailed, err)
	}
	return nil
}

func (s *Store) UpsertChunk(ctx context.Context, documentID int64, index int, embedding []float32, startChar, endChar int) error {
	if len(embedding) != s.dimension {
		return fmt.Errorf("%w: embedding dimension %d, store expects %d", domain.ErrStoreFailed, len(embedding), s.dimension)
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO chunks (document_id, chunk_index, start_char, end_char, embedding)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (document_id, chunk_index)
DO UPDATE SET embedding = EXCLUDED.embedding,
	start_char = EXCLUDED.start_char,
	end_char = EXCLUDED.end_char`,
		documentID, index, startChar, endChar, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("%w: upsert chunk %d: %v", domain.ErrStoreFailed, index, err)
	}
	return nil
}

func (s *Store) UpdateChunkCount(ctx context.Context, documentID int64, count int) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET chunk_count = $2 WHERE id = $1`, documentID, count)
	if err != nil {
		return fmt.Errorf("%w: update chunk count: %v", domain.ErrStoreFailed, err)
	}
	return nil
}

// SearchSimilar runs the vector search. Similarity is 1 - cosine distance;
// ordering uses the raw distance operator so the HNSW index applies. The
// compiled filter is ANDed with the similarity floor.
func (s *Store) SearchSimilar(ctx context.Context, vector []float32, topK int, minSimilarity float64, filters map[string]interface{}) ([]domain.SearchMatch, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query dimension %d, store expects %d", domain.ErrStoreFailed, len(vector), s.dimension)
	}

	filterClause, filterParams, err := CompileFilters(filters, "d", 2)
	if err != nil {
		return nil, err
	}

	var query strings.Builder
	fmt.Fprintf(&query, `
SELECT c.id, c.chunk_index, d.id, d.uuid::text, d.filename, d.mime_type,
	d.user_metadata, 1 - (c.embedding <=> $1::vector) AS similarity
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE 1 - (c.embedding <=> $1::vector) >= $2
  AND %s
ORDER BY c.embedding <=> $1::vector
LIMIT $%d`, filterClause, 3+len(filterParams))

	args := make([]interface{}, 0, 3+len(filterParams))
	args = append(args, pgvector.NewVector(vector), minSimilarity)
	args = append(args, filterParams...)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", domain.ErrStoreFailed, err)
	}
	defer rows.Close()

	var matches []domain.SearchMatch
	for rows.Next() {
		var match domain.SearchMatch
		if err := rows.Scan(
			&match.ChunkID, &match.ChunkIndex, &match.DocumentID, &match.DocumentUUID,
			&match.Filename, &match.MimeType, &match.UserMetadata, &match.Similarity,
		); err != nil {
			return nil, fmt.Errorf("%w: scan match: %v", domain.ErrStoreFailed, err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate matches: %v", domain.ErrStoreFailed, err)
	}

	return matches, nil
}

func (s *Store) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", domain.ErrStoreFailed, err)
	}
	return doc, nil
}

func (s *Store) GetDocumentByUUID(ctx context.Context, uuid string) (*domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE uuid = $1`, documentColumns)
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, uuid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: uuid %s", domain.ErrNotFound, uuid)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get document: %v", domain.ErrStoreFailed, err)
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents ORDER BY uploaded_at DESC`, documentColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", domain.ErrStoreFailed, err)
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", domain.ErrStoreFailed, err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", domain.ErrStoreFailed, err)
	}
	return docs, nil
}

func (s *Store) ListChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, chunk_index, start_char, end_char
FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", domain.ErrStoreFailed, err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var chunk domain.Chunk
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.StartChar, &chunk.EndChar); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", domain.ErrStoreFailed, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %v", domain.ErrStoreFailed, err)
	}
	return chunks, nil
}

// DeleteByID removes the row; chunk rows cascade. Blob cleanup is the
// orchestrator's job.
func (s *Store) DeleteByID(ctx context.Context, id int64) (*domain.DeletedDocument, error) {
	var deleted domain.DeletedDocument
	err := s.pool.QueryRow(ctx, `
DELETE FROM documents WHERE id = $1 RETURNING id, uuid::text, filename`, id).
		Scan(&deleted.ID, &deleted.UUID, &deleted.Filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: delete document: %v", domain.ErrStoreFailed, err)
	}
	return &deleted, nil
}

func (s *Store) DeleteByHash(ctx context.Context, hash string) (*domain.DeletedDocument, error) {
	var deleted domain.DeletedDocument
	err := s.pool.QueryRow(ctx, `
DELETE FROM documents WHERE content_hash = $1 RETURNING id, uuid::text, filename`, hash).
		Scan(&deleted.ID, &deleted.UUID, &deleted.Filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: hash %s", domain.ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: delete document: %v", domain.ErrStoreFailed, err)
	}
	return &deleted, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrStoreFailed, err)
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
