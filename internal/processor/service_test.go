package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (e *stubEmbedder) Dimension() int { return 3 }

type upsertCall struct {
	docID     int64
	index     int
	startChar int
	endChar   int
}

type fakeMeta struct {
	mu         sync.Mutex
	docs       []*domain.Document
	byHash     map[string]*domain.Document
	byUUID     map[string]*domain.Document
	nextID     int64
	hashMisses int

	insertErr error
	upsertErr error
	countErr  error

	matches     []domain.SearchMatch
	searchTopK  int
	upserts     []upsertCall
	chunkCounts map[int64]int
	deletedIDs  []int64
	chunkRows   map[int64][]domain.Chunk
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		byHash:      make(map[string]*domain.Document),
		byUUID:      make(map[string]*domain.Document),
		chunkCounts: make(map[int64]int),
		chunkRows:   make(map[int64][]domain.Chunk),
	}
}

func (m *fakeMeta) FindByHash(ctx context.Context, hash string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hashMisses > 0 {
		m.hashMisses--
		return nil, nil
	}
	return m.byHash[hash], nil
}

func (m *fakeMeta) InsertDocument(ctx context.Context, doc *domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.nextID++
	doc.ID = m.nextID
	m.docs = append(m.docs, doc)
	m.byHash[doc.ContentHash] = doc
	m.byUUID[doc.UUID] = doc
	return nil
}

func (m *fakeMeta) UpsertChunk(ctx context.Context, documentID int64, index int, embedding []float32, startChar, endChar int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts = append(m.upserts, upsertCall{docID: documentID, index: index, startChar: startChar, endChar: endChar})
	return nil
}

func (m *fakeMeta) UpdateChunkCount(ctx context.Context, documentID int64, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return m.countErr
	}
	m.chunkCounts[documentID] = count
	return nil
}

func (m *fakeMeta) SearchSimilar(ctx context.Context, vector []float32, topK int, minSimilarity float64, filters map[string]interface{}) ([]domain.SearchMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchTopK = topK
	return m.matches, nil
}

func (m *fakeMeta) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.docs {
		if doc.ID == id {
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%w: document %d", domain.ErrNotFound, id)
}

func (m *fakeMeta) GetDocumentByUUID(ctx context.Context, uuid string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.byUUID[uuid]; ok {
		return doc, nil
	}
	return nil, fmt.Errorf("%w: document %s", domain.ErrNotFound, uuid)
}

func (m *fakeMeta) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		out = append(out, *doc)
	}
	return out, nil
}

func (m *fakeMeta) ListChunks(ctx context.Context, documentID int64) ([]domain.Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chunkRows[documentID], nil
}

func (m *fakeMeta) DeleteByID(ctx context.Context, id int64) (*domain.DeletedDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, doc := range m.docs {
		if doc.ID == id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			delete(m.byHash, doc.ContentHash)
			delete(m.byUUID, doc.UUID)
			m.deletedIDs = append(m.deletedIDs, id)
			return &domain.DeletedDocument{ID: doc.ID, UUID: doc.UUID, Filename: doc.Filename}, nil
		}
	}
	return nil, fmt.Errorf("%w: document %d", domain.ErrNotFound, id)
}

func (m *fakeMeta) DeleteByHash(ctx context.Context, hash string) (*domain.DeletedDocument, error) {
	m.mu.Lock()
	doc, ok := m.byHash[hash]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: hash %s", domain.ErrNotFound, hash)
	}
	return m.DeleteByID(ctx, doc.ID)
}

func (m *fakeMeta) Ping(ctx context.Context) error { return nil }
func (m *fakeMeta) Close()                         {}

type uploadRecord struct {
	original  []byte
	extracted string
	index     *domain.LexicalIndex
	chunks    []domain.ChunkBody
}

type fakeBlobs struct {
	mu         sync.Mutex
	uploads    map[string]uploadRecord
	uploadErr  error
	chunkTexts map[string]map[int]string
	chunkErr   map[string]error
	lexical    map[string]*domain.LexicalIndex
	extracted  map[string]string
	deleted    []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		uploads:    make(map[string]uploadRecord),
		chunkTexts: make(map[string]map[int]string),
		chunkErr:   make(map[string]error),
		lexical:    make(map[string]*domain.LexicalIndex),
		extracted:  make(map[string]string),
	}
}

func (b *fakeBlobs) UploadDocument(ctx context.Context, uuid string, original []byte, mimeType string, extracted string, index *domain.LexicalIndex, chunks []domain.ChunkBody) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.uploads[uuid] = uploadRecord{original: original, extracted: extracted, index: index, chunks: chunks}
	return nil
}

func (b *fakeBlobs) FetchChunks(ctx context.Context, uuid string, indices []int) (map[int]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.chunkErr[uuid]; err != nil {
		return nil, err
	}
	out := make(map[int]string)
	for _, i := range indices {
		if text, ok := b.chunkTexts[uuid][i]; ok {
			out[i] = text
		}
	}
	return out, nil
}

func (b *fakeBlobs) FetchChunksWithMetadata(ctx context.Context, uuid string, indices []int) (map[int]domain.ChunkBody, error) {
	texts, err := b.FetchChunks(ctx, uuid, indices)
	if err != nil {
		return nil, err
	}
	out := make(map[int]domain.ChunkBody, len(texts))
	for i, text := range texts {
		out[i] = domain.ChunkBody{Text: text, Index: i}
	}
	return out, nil
}

func (b *fakeBlobs) FetchExtractedText(ctx context.Context, uuid string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	text, ok := b.extracted[uuid]
	if !ok {
		return "", fmt.Errorf("%w: no extracted text for %s", domain.ErrBlobFailed, uuid)
	}
	return text, nil
}

func (b *fakeBlobs) FetchOriginal(ctx context.Context, uuid string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	record, ok := b.uploads[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: no original for %s", domain.ErrBlobFailed, uuid)
	}
	return record.original, nil
}

func (b *fakeBlobs) FetchLexicalIndex(ctx context.Context, uuid string) (*domain.LexicalIndex, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	index, ok := b.lexical[uuid]
	if !ok {
		return nil, fmt.Errorf("%w: no lexical index for %s", domain.ErrBlobFailed, uuid)
	}
	return index, nil
}

func (b *fakeBlobs) DeleteDocument(ctx context.Context, uuid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, uuid)
	return nil
}

func (b *fakeBlobs) Ping(ctx context.Context) error { return nil }

type fakeReranker struct {
	result  []domain.RerankedDocument
	err     error
	gotDocs []string
	gotTopK int
}

func (r *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RerankedDocument, error) {
	r.gotDocs = documents
	r.gotTopK = topK
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeReranker) ModelInfo() map[string]string { return map[string]string{"type": "fake"} }
func (r *fakeReranker) Close() error                 { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Chunker: config.ChunkerConfig{ChunkSize: 200, ChunkOverlap: 20},
		Embed:   config.EmbedConfig{Dimension: 3, Concurrency: 4, BatchTimeout: time.Minute},
		Blob:    config.BlobConfig{Concurrency: 4},
		BM25:    config.BM25Config{K1: 1.2, B: 0.75, AvgDocLen: 1000, BoostFactor: 1.5, RRFK: 60},
		Query:   config.QueryConfig{TopKDefault: 5, RerankCandidates: 50},
	}
}

func newTestService(meta *fakeMeta, blobs *fakeBlobs, reranker domain.Reranker) *Service {
	return New(testConfig(), meta, blobs, &stubEmbedder{}, nil, reranker, zerolog.Nop())
}

func TestUpload_IngestsDocument(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	data := []byte("The search service stores every uploaded document as chunks with embeddings so that later queries can retrieve the most relevant passages quickly.")
	sum := sha256.Sum256(data)

	result, err := service.Upload(context.Background(), UploadInput{
		Filename:     "notes.txt",
		Data:         data,
		UploadedBy:   "alice@example.com",
		UserMetadata: map[string]interface{}{"project": "atlas"},
	})
	require.NoError(t, err)

	assert.Equal(t, hex.EncodeToString(sum[:]), result.FileHash)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.NotEmpty(t, result.DocUUID)

	doc, err := meta.GetDocument(context.Background(), result.DocID)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	assert.Equal(t, "text/plain", doc.MimeType)
	assert.Equal(t, "alice@example.com", doc.UploadedBy)
	assert.Equal(t, "api", doc.UploadedVia)
	assert.Equal(t, map[string]interface{}{"project": "atlas"}, doc.UserMetadata)

	record, ok := blobs.uploads[result.DocUUID]
	require.True(t, ok, "blob upload missing")
	assert.Equal(t, data, record.original)
	assert.NotEmpty(t, record.extracted)
	require.NotNil(t, record.index)
	require.Len(t, record.chunks, 1)
	assert.Equal(t, 0, record.chunks[0].Index)

	require.Len(t, meta.upserts, 1)
	assert.Equal(t, result.DocID, meta.upserts[0].docID)
	assert.Equal(t, 1, meta.chunkCounts[result.DocID])
}

func TestUpload_DeduplicatesByHash(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	data := []byte("same bytes uploaded twice should land exactly once")

	first, err := service.Upload(context.Background(), UploadInput{Filename: "a.txt", Data: data})
	require.NoError(t, err)
	require.Positive(t, first.ChunksCreated)

	second, err := service.Upload(context.Background(), UploadInput{Filename: "b.txt", Data: data})
	require.NoError(t, err)

	assert.Equal(t, 0, second.ChunksCreated)
	assert.Equal(t, first.DocID, second.DocID)
	assert.Equal(t, first.DocUUID, second.DocUUID)
	assert.Equal(t, "a.txt", second.Filename)
	assert.Equal(t, "document already exists", second.Message)
	assert.Len(t, meta.docs, 1)
	assert.Len(t, blobs.uploads, 1)
}

func TestUpload_InsertRaceReturnsWinner(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	data := []byte("two concurrent uploads of identical bytes race on insert")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	winner := &domain.Document{ID: 7, UUID: "winner-uuid", Filename: "first.txt", ContentHash: hash}
	meta.byHash[hash] = winner
	meta.hashMisses = 1 // pre-upload check misses, insert collides
	meta.insertErr = domain.ErrDuplicateHash

	result, err := service.Upload(context.Background(), UploadInput{Filename: "second.txt", Data: data})
	require.NoError(t, err)

	assert.Equal(t, int64(7), result.DocID)
	assert.Equal(t, "winner-uuid", result.DocUUID)
	assert.Equal(t, 0, result.ChunksCreated)
}

func TestUpload_RejectsProtectedMetadata(t *testing.T) {
	meta := newFakeMeta()
	service := newTestService(meta, newFakeBlobs(), nil)

	_, err := service.Upload(context.Background(), UploadInput{
		Filename:     "notes.txt",
		Data:         []byte("perfectly valid content"),
		UserMetadata: map[string]interface{}{"doc_uuid": "spoofed"},
	})
	assert.ErrorIs(t, err, domain.ErrProtectedMetadata)
	assert.Empty(t, meta.docs)
}

func TestUpload_CompensatesOnBlobFailure(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	blobs.uploadErr = errors.New("bucket unreachable")
	service := newTestService(meta, blobs, nil)

	_, err := service.Upload(context.Background(), UploadInput{
		Filename: "notes.txt",
		Data:     []byte("content that will fail to land in the blob store"),
	})
	require.Error(t, err)

	// The inserted row and its blob prefix are both unwound.
	require.Len(t, blobs.deleted, 1)
	assert.Equal(t, []int64{1}, meta.deletedIDs)
	assert.Empty(t, meta.docs)
}

func TestUpload_CompensatesOnChunkFailure(t *testing.T) {
	meta := newFakeMeta()
	meta.upsertErr = errors.New("connection reset")
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	_, err := service.Upload(context.Background(), UploadInput{
		Filename: "notes.txt",
		Data:     []byte("content whose chunk rows will fail to insert"),
	})
	require.Error(t, err)

	require.Len(t, blobs.deleted, 1)
	assert.Equal(t, []int64{1}, meta.deletedIDs)
}

func TestQuery_VectorOnly(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Filename: "a.txt", Similarity: 0.91},
		{ChunkID: 102, ChunkIndex: 1, DocumentID: 1, DocumentUUID: "aaa", Filename: "a.txt", Similarity: 0.82},
	}
	blobs := newFakeBlobs()
	blobs.chunkTexts["aaa"] = map[int]string{0: "alpha text", 1: "beta text"}
	service := newTestService(meta, blobs, nil)

	hybrid := false
	resp, err := service.Query(context.Background(), domain.QueryRequest{Query: "alpha", TopK: 5, UseHybrid: &hybrid})
	require.NoError(t, err)

	assert.Equal(t, 5, meta.searchTopK)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "alpha text", resp.Results[0].ChunkText)
	assert.Equal(t, 0.91, resp.Results[0].Similarity)
	assert.Equal(t, "beta text", resp.Results[1].ChunkText)
	assert.False(t, resp.Results[0].FetchError)
}

func TestQuery_HybridFusesDocumentScores(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Filename: "a.txt", Similarity: 0.91},
		{ChunkID: 102, ChunkIndex: 1, DocumentID: 1, DocumentUUID: "aaa", Filename: "a.txt", Similarity: 0.88},
		{ChunkID: 103, ChunkIndex: 0, DocumentID: 2, DocumentUUID: "bbb", Filename: "b.txt", Similarity: 0.85},
	}
	meta.byUUID["aaa"] = &domain.Document{ID: 1, UUID: "aaa", TokenCount: 1000}
	meta.byUUID["bbb"] = &domain.Document{ID: 2, UUID: "bbb", TokenCount: 1000}

	blobs := newFakeBlobs()
	blobs.lexical["aaa"] = &domain.LexicalIndex{TermFrequencies: map[string]int{"unrelated": 2}}
	blobs.lexical["bbb"] = &domain.LexicalIndex{TermFrequencies: map[string]int{"databas": 5}}
	blobs.chunkTexts["aaa"] = map[int]string{0: "first", 1: "second"}
	blobs.chunkTexts["bbb"] = map[int]string{0: "third"}

	service := newTestService(meta, blobs, nil)

	resp, err := service.Query(context.Background(), domain.QueryRequest{Query: "database", TopK: 5})
	require.NoError(t, err)

	// Hybrid queries widen the vector candidate pool.
	assert.Equal(t, 100, meta.searchTopK)

	// Document bbb wins the lexical ranking, so its chunk overtakes the
	// second vector hit after fusion.
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "aaa", resp.Results[0].DocumentUUID)
	assert.Equal(t, 0, resp.Results[0].ChunkIndex)
	assert.Equal(t, "bbb", resp.Results[1].DocumentUUID)
	assert.Equal(t, "aaa", resp.Results[2].DocumentUUID)
	assert.Equal(t, 1, resp.Results[2].ChunkIndex)
}

func TestQuery_MissingLexicalIndexScoresZero(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.9},
		{ChunkID: 102, ChunkIndex: 0, DocumentID: 2, DocumentUUID: "bbb", Similarity: 0.8},
	}
	blobs := newFakeBlobs() // no lexical indexes at all
	blobs.chunkTexts["aaa"] = map[int]string{0: "one"}
	blobs.chunkTexts["bbb"] = map[int]string{0: "two"}
	service := newTestService(meta, blobs, nil)

	resp, err := service.Query(context.Background(), domain.QueryRequest{Query: "anything", TopK: 5})
	require.NoError(t, err)

	// All documents score zero, so the vector order survives fusion.
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "aaa", resp.Results[0].DocumentUUID)
	assert.Equal(t, "bbb", resp.Results[1].DocumentUUID)
}

func TestQuery_HydrationFailureMarksResults(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.9},
		{ChunkID: 102, ChunkIndex: 0, DocumentID: 2, DocumentUUID: "bbb", Similarity: 0.8},
	}
	blobs := newFakeBlobs()
	blobs.chunkTexts["aaa"] = map[int]string{0: "readable"}
	blobs.chunkErr["bbb"] = errors.New("object lost")
	service := newTestService(meta, blobs, nil)

	hybrid := false
	resp, err := service.Query(context.Background(), domain.QueryRequest{Query: "q", TopK: 5, UseHybrid: &hybrid})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "readable", resp.Results[0].ChunkText)
	assert.False(t, resp.Results[0].FetchError)
	assert.Equal(t, unavailableChunk, resp.Results[1].ChunkText)
	assert.True(t, resp.Results[1].FetchError)
}

func TestQuery_RerankReordersAndTruncates(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.9},
		{ChunkID: 102, ChunkIndex: 1, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.8},
		{ChunkID: 103, ChunkIndex: 2, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.7},
	}
	blobs := newFakeBlobs()
	blobs.chunkTexts["aaa"] = map[int]string{0: "zero", 1: "one", 2: "two"}

	reranker := &fakeReranker{result: []domain.RerankedDocument{
		{Index: 2, Score: 0.95, Text: "two", Reasoning: "direct answer"},
		{Index: 0, Score: 0.40, Text: "zero"},
	}}
	service := newTestService(meta, blobs, reranker)

	hybrid := false
	resp, err := service.Query(context.Background(), domain.QueryRequest{
		Query: "q", TopK: 2, Rerank: true, UseHybrid: &hybrid,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"zero", "one", "two"}, reranker.gotDocs)
	assert.Equal(t, 2, reranker.gotTopK)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "two", resp.Results[0].ChunkText)
	require.NotNil(t, resp.Results[0].RerankScore)
	assert.Equal(t, 0.95, *resp.Results[0].RerankScore)
	assert.Equal(t, "direct answer", resp.Results[0].Reasoning)
	assert.Equal(t, "zero", resp.Results[1].ChunkText)
}

func TestQuery_RerankerUnavailableDegrades(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.9},
		{ChunkID: 102, ChunkIndex: 1, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.8},
	}
	blobs := newFakeBlobs()
	blobs.chunkTexts["aaa"] = map[int]string{0: "zero", 1: "one"}

	reranker := &fakeReranker{err: fmt.Errorf("%w: endpoint down", domain.ErrRerankerUnavailable)}
	service := newTestService(meta, blobs, reranker)

	hybrid := false
	resp, err := service.Query(context.Background(), domain.QueryRequest{
		Query: "q", TopK: 2, Rerank: true, UseHybrid: &hybrid,
	})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2)
	assert.Equal(t, "zero", resp.Results[0].ChunkText)
	assert.Nil(t, resp.Results[0].RerankScore)
}

func TestQuery_RerankWithoutRerankerPassesThrough(t *testing.T) {
	meta := newFakeMeta()
	meta.matches = []domain.SearchMatch{
		{ChunkID: 101, ChunkIndex: 0, DocumentID: 1, DocumentUUID: "aaa", Similarity: 0.9},
	}
	blobs := newFakeBlobs()
	blobs.chunkTexts["aaa"] = map[int]string{0: "only"}
	service := newTestService(meta, blobs, nil)

	hybrid := false
	resp, err := service.Query(context.Background(), domain.QueryRequest{
		Query: "q", TopK: 1, Rerank: true, UseHybrid: &hybrid,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "only", resp.Results[0].ChunkText)
}

func TestGetByHash_Missing(t *testing.T) {
	service := newTestService(newFakeMeta(), newFakeBlobs(), nil)

	_, err := service.GetByHash(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDownload(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	result, err := service.Upload(context.Background(), UploadInput{
		Filename: "notes.txt",
		Data:     []byte("original body text"),
	})
	require.NoError(t, err)
	blobs.extracted[result.DocUUID] = "original body text"

	t.Run("original", func(t *testing.T) {
		download, err := service.Download(context.Background(), result.DocID, "original")
		require.NoError(t, err)
		assert.Equal(t, []byte("original body text"), download.Data)
		assert.Equal(t, "text/plain", download.MimeType)
		assert.Equal(t, "notes.txt", download.Filename)
	})

	t.Run("extracted", func(t *testing.T) {
		download, err := service.Download(context.Background(), result.DocID, "extracted")
		require.NoError(t, err)
		assert.Equal(t, "notes.txt.txt", download.Filename)
		assert.Equal(t, "text/plain; charset=utf-8", download.MimeType)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := service.Download(context.Background(), result.DocID, "sideways")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("missing document", func(t *testing.T) {
		_, err := service.Download(context.Background(), 999, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestContext_SlicesExtractedText(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	doc := &domain.Document{UUID: "ctx-uuid", Filename: "doc.txt", ContentHash: "h"}
	require.NoError(t, meta.InsertDocument(context.Background(), doc))
	meta.chunkRows[doc.ID] = []domain.Chunk{
		{ID: 1, DocumentID: doc.ID, Index: 0, StartChar: 0, EndChar: 10},
		{ID: 2, DocumentID: doc.ID, Index: 1, StartChar: 8, EndChar: 20},
		{ID: 3, DocumentID: doc.ID, Index: 2, StartChar: 18, EndChar: 26},
	}
	blobs.extracted["ctx-uuid"] = "abcdefghijklmnopqrstuvwxyz"

	got, err := service.Context(context.Background(), "ctx-uuid", 1, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, "abcdefghijklmnopqrstuvwxyz", got.Text)
	assert.Equal(t, 0, got.StartChunk)
	assert.Equal(t, 2, got.EndChunk)
	assert.Equal(t, 0, got.StartChar)
	assert.Equal(t, 26, got.EndChar)

	byID, err := service.Context(context.Background(), "1", 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "ijklmnopqrst", byID.Text)
	assert.Equal(t, 1, byID.StartChunk)
	assert.Equal(t, 1, byID.EndChunk)

	_, err = service.Context(context.Background(), "ctx-uuid", 5, 1, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = service.Context(context.Background(), "ctx-uuid", 1, -1, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDeleteByID_CleansBlobs(t *testing.T) {
	meta := newFakeMeta()
	blobs := newFakeBlobs()
	service := newTestService(meta, blobs, nil)

	result, err := service.Upload(context.Background(), UploadInput{
		Filename: "notes.txt",
		Data:     []byte("document that will be deleted"),
	})
	require.NoError(t, err)

	deleted, err := service.DeleteByID(context.Background(), result.DocID)
	require.NoError(t, err)
	assert.Equal(t, result.DocUUID, deleted.UUID)
	assert.Contains(t, blobs.deleted, result.DocUUID)

	_, err = service.GetDocument(context.Background(), result.DocID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
