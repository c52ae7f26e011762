// Package processor composes the ingestion and query pipelines on top of
// the stores and providers. It owns the compensation logic that stands in
// for a cross-store transaction.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragstore/internal/chunker"
	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
	"github.com/liliang-cn/ragstore/internal/embedder"
	"github.com/liliang-cn/ragstore/internal/extract"
	"github.com/liliang-cn/ragstore/internal/fusion"
	"github.com/liliang-cn/ragstore/internal/lexical"
	"github.com/liliang-cn/ragstore/internal/validate"
)

const (
	minVectorCandidates = 100
	tokenEncoding       = "cl100k_base"
	unavailableChunk    = "[chunk text unavailable]"
)

type Service struct {
	cfg       *config.Config
	meta      domain.MetadataStore
	blobs     domain.BlobStore
	embedder  domain.Embedder
	engine    *embedder.Engine
	extractor *extract.Extractor
	metaLLM   domain.MetadataExtractor
	chunker   *chunker.Service
	scorer    *lexical.Scorer
	fuser     *fusion.Fuser
	reranker  domain.Reranker
	encoder   *tiktoken.Tiktoken
	logger    zerolog.Logger
}

// New wires the pipelines. reranker may be nil when reranking is disabled;
// metaLLM may be nil to skip summary/keyword extraction entirely.
func New(
	cfg *config.Config,
	meta domain.MetadataStore,
	blobs domain.BlobStore,
	emb domain.Embedder,
	metaLLM domain.MetadataExtractor,
	reranker domain.Reranker,
	logger zerolog.Logger,
) *Service {
	componentLogger := logger.With().Str("component", "processor").Logger()

	encoder, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		componentLogger.Warn().Err(err).Msg("token encoder unavailable, token counts will be zero")
		encoder = nil
	}

	return &Service{
		cfg:       cfg,
		meta:      meta,
		blobs:     blobs,
		embedder:  emb,
		engine:    embedder.NewEngine(emb, cfg.Embed.Concurrency, cfg.Chunker.ChunkOverlap, cfg.Embed.BatchTimeout, logger),
		extractor: extract.New(logger),
		metaLLM:   metaLLM,
		chunker:   chunker.New(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap),
		scorer:    lexical.NewScorer(cfg.BM25.K1, cfg.BM25.B, cfg.BM25.AvgDocLen, cfg.BM25.BoostFactor),
		fuser:     fusion.NewWithK(cfg.BM25.RRFK),
		reranker:  reranker,
		encoder:   encoder,
		logger:    componentLogger,
	}
}

// UploadInput carries one file into the ingestion pipeline.
type UploadInput struct {
	Filename     string
	Data         []byte
	UploadedBy   string
	UploadedVia  string
	UserMetadata map[string]interface{}
}

// Upload runs the full ingestion pipeline. Re-uploading bytes with a known
// content hash returns the existing document with ChunksCreated zero.
func (s *Service) Upload(ctx context.Context, input UploadInput) (*domain.UploadResult, error) {
	sum := sha256.Sum256(input.Data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.meta.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return duplicateResult(existing, hash), nil
	}

	result, err := validate.File(input.Filename, input.Data)
	if err != nil {
		return nil, err
	}

	text, err := s.extractor.Text(result)
	if err != nil {
		return nil, err
	}

	chunks := s.chunker.Split(text)

	// Embedding, summary/keyword extraction, and lexical indexing run
	// concurrently; only the embedding branch can fail the upload.
	var (
		embedded  []domain.EmbeddedChunk
		splits    domain.SplitStats
		extracted domain.ExtractedMetadata
		index     *domain.LexicalIndex
		tokens    int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		embedded, splits, err = s.engine.EmbedChunks(gctx, chunks)
		return err
	})
	g.Go(func() error {
		if s.metaLLM == nil {
			return nil
		}
		meta, err := s.metaLLM.Extract(gctx, text)
		if err != nil {
			s.logger.Warn().Err(err).Str("filename", input.Filename).Msg("metadata extraction failed, continuing without")
			return nil
		}
		extracted = meta
		return nil
	})
	g.Go(func() error {
		texts := make([]string, len(chunks))
		for i, chunk := range chunks {
			texts[i] = chunk.Text
		}
		index = lexical.BuildIndex(texts)
		tokens = s.countTokens(text)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := domain.ValidateUserMetadata(input.UserMetadata); err != nil {
		return nil, err
	}

	uploadedVia := input.UploadedVia
	if uploadedVia == "" {
		uploadedVia = "api"
	}

	doc := &domain.Document{
		UUID:         uuid.New().String(),
		Filename:     input.Filename,
		MimeType:     mimeTypeFor(result.Format),
		SizeBytes:    int64(len(input.Data)),
		ContentHash:  hash,
		UploadedBy:   input.UploadedBy,
		UploadedAt:   time.Now().UTC(),
		UploadedVia:  uploadedVia,
		UserMetadata: input.UserMetadata,
		Summary:      extracted.Summary,
		Keywords:     extracted.Keywords,
		TokenCount:   tokens,
	}

	if err := s.meta.InsertDocument(ctx, doc); err != nil {
		// A concurrent upload of the same bytes can win the insert race.
		if errors.Is(err, domain.ErrDuplicateHash) {
			winner, findErr := s.meta.FindByHash(ctx, hash)
			if findErr == nil && winner != nil {
				return duplicateResult(winner, hash), nil
			}
		}
		return nil, err
	}

	bodies := make([]domain.ChunkBody, len(embedded))
	for i, chunk := range embedded {
		bodies[i] = domain.ChunkBody{
			Text:  chunk.Text,
			Index: chunk.Index,
			Metadata: map[string]interface{}{
				"filename":   input.Filename,
				"start_char": chunk.StartChar,
				"end_char":   chunk.EndChar,
			},
		}
	}

	if err := s.blobs.UploadDocument(ctx, doc.UUID, input.Data, doc.MimeType, text, index, bodies); err != nil {
		s.compensate(doc)
		return nil, err
	}

	for _, chunk := range embedded {
		if err := s.meta.UpsertChunk(ctx, doc.ID, chunk.Index, chunk.Embedding, chunk.StartChar, chunk.EndChar); err != nil {
			s.compensate(doc)
			return nil, err
		}
	}

	if err := s.meta.UpdateChunkCount(ctx, doc.ID, len(embedded)); err != nil {
		s.compensate(doc)
		return nil, err
	}

	s.logger.Info().
		Int64("doc_id", doc.ID).
		Str("doc_uuid", doc.UUID).
		Int("chunks", len(embedded)).
		Int("splits", splits.SplitsPerformed).
		Msg("document ingested")

	return &domain.UploadResult{
		DocID:           doc.ID,
		DocUUID:         doc.UUID,
		Filename:        doc.Filename,
		FileHash:        hash,
		ChunksCreated:   len(embedded),
		SplitsPerformed: splits.SplitsPerformed,
		MaxSplitDepth:   splits.MaxDepth,
		Message:         "document ingested",
	}, nil
}

// compensate unwinds a partially-written document: blobs first, then the
// row (chunk rows cascade with it). Runs on a fresh context so an aborted
// request still cleans up.
func (s *Service) compensate(doc *domain.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.blobs.DeleteDocument(ctx, doc.UUID); err != nil {
		s.logger.Error().Err(err).Str("doc_uuid", doc.UUID).Msg("compensation: blob cleanup failed")
	}
	if _, err := s.meta.DeleteByID(ctx, doc.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.Error().Err(err).Int64("doc_id", doc.ID).Msg("compensation: row cleanup failed")
	}
}

func duplicateResult(doc *domain.Document, hash string) *domain.UploadResult {
	return &domain.UploadResult{
		DocID:         doc.ID,
		DocUUID:       doc.UUID,
		Filename:      doc.Filename,
		FileHash:      hash,
		ChunksCreated: 0,
		Message:       "document already exists",
	}
}

func (s *Service) countTokens(text string) int {
	if s.encoder == nil {
		return 0
	}
	return len(s.encoder.Encode(text, nil, nil))
}

func mimeTypeFor(format string) string {
	switch format {
	case validate.FormatPDF:
		return "application/pdf"
	case validate.FormatJSON:
		return "application/json"
	case validate.FormatXML:
		return "application/xml"
	case validate.FormatYAML:
		return "application/yaml"
	case validate.FormatHTML:
		return "text/html"
	default:
		return "text/plain"
	}
}

// candidate is a search match plus its hydration state.
type candidate struct {
	match       domain.SearchMatch
	text        string
	hydrated    bool
	fetchError  bool
	rerankScore *float64
	reasoning   string
}

// Query runs the retrieval pipeline: vector search, optional BM25 fusion,
// optional reranking, then chunk-text hydration.
func (s *Service) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.Query.TopKDefault
	}
	minSimilarity := req.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = s.cfg.Query.MinSimilarityDefault
	}
	rerankCandidates := req.RerankCandidates
	if rerankCandidates <= 0 {
		rerankCandidates = s.cfg.Query.RerankCandidates
	}

	kVector := topK
	if req.Rerank {
		kVector = rerankCandidates
	}
	searchK := kVector
	if req.Hybrid() && searchK < minVectorCandidates {
		searchK = minVectorCandidates
	}

	vector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	matches, err := s.meta.SearchSimilar(ctx, vector, searchK, minSimilarity, req.Filters)
	if err != nil {
		return nil, err
	}

	candidates := make([]*candidate, len(matches))
	for i, match := range matches {
		candidates[i] = &candidate{match: match}
	}

	if req.Hybrid() && len(candidates) > 0 {
		candidates = s.fuseWithLexical(ctx, req.Query, candidates)
	}
	if len(candidates) > kVector {
		candidates = candidates[:kVector]
	}

	if req.Rerank {
		candidates, err = s.rerank(ctx, req.Query, candidates, topK)
		if err != nil {
			return nil, err
		}
	}
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	s.hydrate(ctx, candidates)

	results := make([]domain.QueryResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.QueryResult{
			ChunkText:    c.text,
			Similarity:   c.match.Similarity,
			ChunkIndex:   c.match.ChunkIndex,
			Filename:     c.match.Filename,
			DocumentID:   c.match.DocumentID,
			DocumentUUID: c.match.DocumentUUID,
			UserMetadata: c.match.UserMetadata,
			RerankScore:  c.rerankScore,
			Reasoning:    c.reasoning,
			FetchError:   c.fetchError,
		}
	}

	return &domain.QueryResponse{
		Query:   req.Query,
		Results: results,
		Total:   len(results),
	}, nil
}

// docLexical is the per-document material for BM25 scoring.
type docLexical struct {
	index    *domain.LexicalIndex
	tokens   int
	keywords []string
}

// fuseWithLexical scores each candidate's document with BM25 and fuses the
// vector ranking with the document-score ranking by RRF. A document whose
// lexical index cannot be fetched scores zero rather than failing the query.
func (s *Service) fuseWithLexical(ctx context.Context, query string, candidates []*candidate) []*candidate {
	uuids := make(map[string]struct{})
	for _, c := range candidates {
		uuids[c.match.DocumentUUID] = struct{}{}
	}

	var mu sync.Mutex
	lexByUUID := make(map[string]*docLexical, len(uuids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Blob.Concurrency)
	for docUUID := range uuids {
		g.Go(func() error {
			lex := &docLexical{}
			index, err := s.blobs.FetchLexicalIndex(gctx, docUUID)
			if err != nil {
				s.logger.Warn().Err(err).Str("doc_uuid", docUUID).Msg("lexical index fetch failed, scoring zero")
			} else {
				lex.index = index
			}
			if doc, err := s.meta.GetDocumentByUUID(gctx, docUUID); err == nil {
				lex.tokens = doc.TokenCount
				lex.keywords = doc.Keywords
			}
			mu.Lock()
			lexByUUID[docUUID] = lex
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	queryTerms := lexical.Tokenize(query)
	scores := make(map[string]float64, len(lexByUUID))
	for docUUID, lex := range lexByUUID {
		if lex.index == nil {
			continue
		}
		docLen := lex.tokens
		if docLen <= 0 {
			docLen = int(s.cfg.BM25.AvgDocLen)
		}
		scores[docUUID] = s.scorer.Score(queryTerms, lex.index.TermFrequencies, docLen, lex.keywords)
	}

	vectorRanking := make([]fusion.Ranked, len(candidates))
	for i, c := range candidates {
		vectorRanking[i] = fusion.Ranked{ChunkID: c.match.ChunkID, Payload: c}
	}

	// Chunks inherit their document's BM25 score; ties keep vector order.
	lexicalRanking := make([]fusion.Ranked, len(candidates))
	copy(lexicalRanking, vectorRanking)
	sort.SliceStable(lexicalRanking, func(i, j int) bool {
		a := lexicalRanking[i].Payload.(*candidate)
		b := lexicalRanking[j].Payload.(*candidate)
		return scores[a.match.DocumentUUID] > scores[b.match.DocumentUUID]
	})

	fused := s.fuser.Fuse(vectorRanking, lexicalRanking)
	merged := make([]*candidate, len(fused))
	for i, entry := range fused {
		merged[i] = entry.Payload.(*candidate)
	}
	return merged
}

// rerank hydrates the candidate texts and lets the reranker reorder them.
// When no reranker is configured the candidates pass through unchanged.
func (s *Service) rerank(ctx context.Context, query string, candidates []*candidate, topK int) ([]*candidate, error) {
	if s.reranker == nil {
		s.logger.Warn().Msg("rerank requested but no reranker configured, skipping")
		return candidates, nil
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	s.hydrate(ctx, candidates)

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.text
	}

	reranked, err := s.reranker.Rerank(ctx, query, texts, topK)
	if err != nil {
		if errors.Is(err, domain.ErrRerankerUnavailable) {
			s.logger.Warn().Err(err).Msg("reranker unavailable, keeping fused order")
			return candidates, nil
		}
		return nil, err
	}

	ordered := make([]*candidate, 0, len(reranked))
	for _, doc := range reranked {
		if doc.Index < 0 || doc.Index >= len(candidates) {
			continue
		}
		c := candidates[doc.Index]
		score := doc.Score
		c.rerankScore = &score
		c.reasoning = doc.Reasoning
		ordered = append(ordered, c)
	}
	return ordered, nil
}

// hydrate fills chunk texts from the blob store, grouped by document so
// each document's chunks fetch together. A failed document marks its
// chunks with a placeholder instead of failing the query.
func (s *Service) hydrate(ctx context.Context, candidates []*candidate) {
	pending := make(map[string][]*candidate)
	for _, c := range candidates {
		if !c.hydrated {
			pending[c.match.DocumentUUID] = append(pending[c.match.DocumentUUID], c)
		}
	}
	if len(pending) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Blob.Concurrency)
	for docUUID, docCandidates := range pending {
		g.Go(func() error {
			indices := make([]int, len(docCandidates))
			for i, c := range docCandidates {
				indices[i] = c.match.ChunkIndex
			}
			texts, err := s.blobs.FetchChunks(gctx, docUUID, indices)
			if err != nil {
				s.logger.Warn().Err(err).Str("doc_uuid", docUUID).Msg("chunk hydration failed")
				for _, c := range docCandidates {
					c.text = unavailableChunk
					c.fetchError = true
					c.hydrated = true
				}
				return nil
			}
			for _, c := range docCandidates {
				text, ok := texts[c.match.ChunkIndex]
				if !ok {
					c.text = unavailableChunk
					c.fetchError = true
				} else {
					c.text = text
				}
				c.hydrated = true
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Embed exposes the raw embedding provider for the embed endpoint.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *Service) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.meta.ListDocuments(ctx)
}

func (s *Service) GetDocument(ctx context.Context, id int64) (*domain.Document, error) {
	return s.meta.GetDocument(ctx, id)
}

// resolveDocument accepts either a numeric row id or a document UUID.
func (s *Service) resolveDocument(ctx context.Context, ref string) (*domain.Document, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.meta.GetDocument(ctx, id)
	}
	return s.meta.GetDocumentByUUID(ctx, ref)
}

func (s *Service) GetByHash(ctx context.Context, hash string) (*domain.Document, error) {
	doc, err := s.meta.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: hash %s", domain.ErrNotFound, hash)
	}
	return doc, nil
}

// DownloadResult is a document payload with its serving metadata.
type DownloadResult struct {
	Data     []byte
	MimeType string
	Filename string
}

// Download returns either the original bytes or the extracted text of a
// document.
func (s *Service) Download(ctx context.Context, id int64, format string) (*DownloadResult, error) {
	doc, err := s.meta.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	switch format {
	case "", "original":
		data, err := s.blobs.FetchOriginal(ctx, doc.UUID)
		if err != nil {
			return nil, err
		}
		return &DownloadResult{Data: data, MimeType: doc.MimeType, Filename: doc.Filename}, nil
	case "extracted":
		text, err := s.blobs.FetchExtractedText(ctx, doc.UUID)
		if err != nil {
			return nil, err
		}
		return &DownloadResult{Data: []byte(text), MimeType: "text/plain; charset=utf-8", Filename: doc.Filename + ".txt"}, nil
	default:
		return nil, fmt.Errorf("%w: unknown download format %q", domain.ErrInvalidInput, format)
	}
}

func (s *Service) Chunks(ctx context.Context, id int64) ([]domain.Chunk, error) {
	if _, err := s.meta.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.meta.ListChunks(ctx, id)
}

// ChunkContext is a continuous slice of a document's extracted text
// spanning a chunk and its neighbours.
type ChunkContext struct {
	Text       string `json:"text"`
	StartChunk int    `json:"start_chunk"`
	EndChunk   int    `json:"end_chunk"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
}

// Context reconstructs the continuous text spanning a chunk and its
// neighbours from the stored character offsets, without repeating overlap
// regions. docRef is a numeric row id or a document UUID. When offsets are
// missing it falls back to joining the chunk bodies.
func (s *Service) Context(ctx context.Context, docRef string, chunkIndex, before, after int) (*ChunkContext, error) {
	if before < 0 || after < 0 {
		return nil, fmt.Errorf("%w: before and after must be >= 0", domain.ErrInvalidInput)
	}

	doc, err := s.resolveDocument(ctx, docRef)
	if err != nil {
		return nil, err
	}

	chunks, err := s.meta.ListChunks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: document %s has no chunks", domain.ErrNotFound, doc.UUID)
	}
	if chunkIndex < 0 || chunkIndex >= len(chunks) {
		return nil, fmt.Errorf("%w: chunk index %d out of range [0,%d)", domain.ErrInvalidInput, chunkIndex, len(chunks))
	}

	start := chunkIndex - before
	if start < 0 {
		start = 0
	}
	end := chunkIndex + after
	if end >= len(chunks) {
		end = len(chunks) - 1
	}

	startChar := chunks[start].StartChar
	endChar := chunks[end].EndChar

	if endChar > startChar {
		text, err := s.blobs.FetchExtractedText(ctx, doc.UUID)
		if err == nil {
			runes := []rune(text)
			if startChar <= len(runes) && endChar <= len(runes) {
				return &ChunkContext{
					Text:       string(runes[startChar:endChar]),
					StartChunk: start,
					EndChunk:   end,
					StartChar:  startChar,
					EndChar:    endChar,
				}, nil
			}
		}
	}

	indices := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		indices = append(indices, chunks[i].Index)
	}
	texts, err := s.blobs.FetchChunks(ctx, doc.UUID, indices)
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(indices))
	for _, i := range indices {
		parts = append(parts, texts[i])
	}
	return &ChunkContext{
		Text:       strings.Join(parts, "\n\n"),
		StartChunk: start,
		EndChunk:   end,
		StartChar:  startChar,
		EndChar:    endChar,
	}, nil
}

// DeleteByID removes the row first, then the blobs. Blob cleanup failures
// are logged; the document is already unreachable at that point.
func (s *Service) DeleteByID(ctx context.Context, id int64) (*domain.DeletedDocument, error) {
	deleted, err := s.meta.DeleteByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.DeleteDocument(ctx, deleted.UUID); err != nil {
		s.logger.Warn().Err(err).Str("doc_uuid", deleted.UUID).Msg("blob cleanup after delete failed")
	}
	return deleted, nil
}

func (s *Service) DeleteByHash(ctx context.Context, hash string) (*domain.DeletedDocument, error) {
	deleted, err := s.meta.DeleteByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.DeleteDocument(ctx, deleted.UUID); err != nil {
		s.logger.Warn().Err(err).Str("doc_uuid", deleted.UUID).Msg("blob cleanup after delete failed")
	}
	return deleted, nil
}

// Health reports per-dependency liveness.
func (s *Service) Health(ctx context.Context) map[string]string {
	status := map[string]string{
		"database":   "ok",
		"blob_store": "ok",
	}
	if err := s.meta.Ping(ctx); err != nil {
		status["database"] = err.Error()
	}
	if err := s.blobs.Ping(ctx); err != nil {
		status["blob_store"] = err.Error()
	}
	return status
}
