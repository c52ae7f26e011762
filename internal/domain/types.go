package domain

import "time"

// Document is one logical ingested artefact. The relational row is the
// index; original bytes, extracted text, chunk bodies and the lexical
// index live in the blob store under the document's UUID prefix.
type Document struct {
	ID           int64                  `json:"id"`
	UUID         string                 `json:"uuid"`
	Filename     string                 `json:"filename"`
	MimeType     string                 `json:"mime_type"`
	SizeBytes    int64                  `json:"size_bytes"`
	ContentHash  string                 `json:"content_hash"`
	ChunkCount   int                    `json:"chunk_count"`
	UploadedBy   string                 `json:"uploaded_by"`
	UploadedAt   time.Time              `json:"uploaded_at"`
	UploadedVia  string                 `json:"uploaded_via"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Keywords     []string               `json:"keywords,omitempty"`
	TokenCount   int                    `json:"token_count,omitempty"`
}

// Chunk is one embedding-bearing row. The body itself is not stored here;
// it is addressable as {uuid}/chunks/{index:03d}.json in the blob store.
type Chunk struct {
	ID         int64 `json:"id"`
	DocumentID int64 `json:"document_id"`
	Index      int   `json:"chunk_index"`
	StartChar  int   `json:"start_char"`
	EndChar    int   `json:"end_char"`
}

// TextChunk is a segment produced by the chunker, before embedding.
type TextChunk struct {
	Text      string `json:"text"`
	Index     int    `json:"index"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
}

// EmbeddedChunk pairs a text segment with its vector. The embedding engine
// may emit more of these than it was given chunks; indices are reassigned
// in output order.
type EmbeddedChunk struct {
	TextChunk
	Embedding []float32 `json:"-"`
}

// SplitStats reports adaptive splitting activity of one embedding batch.
type SplitStats struct {
	SplitsPerformed int `json:"splits_performed"`
	MaxDepth        int `json:"max_split_depth"`
}

// ChunkBody is the blob-store payload for one chunk.
type ChunkBody struct {
	Text     string                 `json:"text"`
	Index    int                    `json:"index"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LexicalIndex is the per-document term-frequency map. There is no global
// IDF table; LLM-selected keywords carry the term-importance signal.
type LexicalIndex struct {
	TermFrequencies map[string]int `json:"term_frequencies"`
}

// ExtractedMetadata is the output of the LLM summary/keyword extractor.
type ExtractedMetadata struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// SearchMatch is one row returned by the vector search.
type SearchMatch struct {
	ChunkID      int64                  `json:"chunk_id"`
	ChunkIndex   int                    `json:"chunk_index"`
	DocumentID   int64                  `json:"document_id"`
	DocumentUUID string                 `json:"document_uuid"`
	Filename     string                 `json:"filename"`
	MimeType     string                 `json:"mime_type"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	Similarity   float64                `json:"similarity"`
}

// QueryRequest is the query-pipeline input.
type QueryRequest struct {
	Query            string                 `json:"query" binding:"required"`
	TopK             int                    `json:"top_k" binding:"omitempty,gte=1,lte=20"`
	MinSimilarity    float64                `json:"min_similarity" binding:"omitempty,gte=0,lte=1"`
	Rerank           bool                   `json:"rerank"`
	RerankCandidates int                    `json:"rerank_candidates" binding:"omitempty,gte=5,lte=100"`
	UseHybrid        *bool                  `json:"use_hybrid"`
	Filters          map[string]interface{} `json:"filters,omitempty"`
}

// Hybrid reports whether the lexical branch runs; it defaults to on.
func (r QueryRequest) Hybrid() bool {
	return r.UseHybrid == nil || *r.UseHybrid
}

// QueryResult is one hydrated result row in final order.
type QueryResult struct {
	ChunkText    string                 `json:"chunk_text"`
	Similarity   float64                `json:"similarity"`
	ChunkIndex   int                    `json:"chunk_index"`
	Filename     string                 `json:"filename"`
	DocumentID   int64                  `json:"document_id"`
	DocumentUUID string                 `json:"document_uuid"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
	RerankScore  *float64               `json:"rerank_score,omitempty"`
	Reasoning    string                 `json:"reasoning,omitempty"`
	FetchError   bool                   `json:"fetch_error,omitempty"`
}

// QueryResponse wraps the ordered results.
type QueryResponse struct {
	Query   string        `json:"query"`
	Results []QueryResult `json:"results"`
	Total   int           `json:"total"`
}

// UploadResult is the ingestion-pipeline output. ChunksCreated is zero when
// the upload deduplicated against an existing content hash.
type UploadResult struct {
	DocID           int64  `json:"doc_id"`
	DocUUID         string `json:"doc_uuid"`
	Filename        string `json:"filename"`
	FileHash        string `json:"file_hash"`
	ChunksCreated   int    `json:"chunks_created"`
	SplitsPerformed int    `json:"splits_performed"`
	MaxSplitDepth   int    `json:"max_split_depth"`
	Message         string `json:"message"`
}

// DeletedDocument identifies a document removed by a delete operation.
type DeletedDocument struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Filename string `json:"filename"`
}
