package domain

import "context"

// Embedder generates one fixed-dimension vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// MetadataExtractor produces a short summary and keyword list for a
// document. Implementations degrade to an empty result rather than fail.
type MetadataExtractor interface {
	Extract(ctx context.Context, text string) (ExtractedMetadata, error)
}

// RerankedDocument is one scored entry of a rerank pass. Index refers to
// the position in the input document list; Score is normalised to [0, 1].
type RerankedDocument struct {
	Index     int     `json:"index"`
	Score     float64 `json:"relevance_score"`
	Text      string  `json:"text"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Reranker reorders candidate texts by relevance to a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankedDocument, error)
	ModelInfo() map[string]string
	Close() error
}

// MetadataStore is the relational side: document and chunk rows plus the
// vector index.
type MetadataStore interface {
	FindByHash(ctx context.Context, hash string) (*Document, error)
	InsertDocument(ctx context.Context, doc *Document) error
	UpsertChunk(ctx context.Context, documentID int64, index int, embedding []float32, startChar, endChar int) error
	UpdateChunkCount(ctx context.Context, documentID int64, count int) error
	SearchSimilar(ctx context.Context, vector []float32, topK int, minSimilarity float64, filters map[string]interface{}) ([]SearchMatch, error)
	GetDocument(ctx context.Context, id int64) (*Document, error)
	GetDocumentByUUID(ctx context.Context, uuid string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	ListChunks(ctx context.Context, documentID int64) ([]Chunk, error)
	DeleteByID(ctx context.Context, id int64) (*DeletedDocument, error)
	DeleteByHash(ctx context.Context, hash string) (*DeletedDocument, error)
	Ping(ctx context.Context) error
	Close()
}

// BlobStore is the payload side, keyed under one prefix per document UUID.
type BlobStore interface {
	UploadDocument(ctx context.Context, uuid string, original []byte, mimeType string, extracted string, index *LexicalIndex, chunks []ChunkBody) error
	FetchChunks(ctx context.Context, uuid string, indices []int) (map[int]string, error)
	FetchChunksWithMetadata(ctx context.Context, uuid string, indices []int) (map[int]ChunkBody, error)
	FetchExtractedText(ctx context.Context, uuid string) (string, error)
	FetchOriginal(ctx context.Context, uuid string) ([]byte, error)
	FetchLexicalIndex(ctx context.Context, uuid string) (*LexicalIndex, error)
	DeleteDocument(ctx context.Context, uuid string) error
	Ping(ctx context.Context) error
}
