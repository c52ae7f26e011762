package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragstore/internal/domain"
)

const (
	// maxSplitDepth bounds overflow recursion; beyond it the chunk fails.
	maxSplitDepth = 3

	// splitSearchFraction is how far either side of the midpoint the
	// boundary search may wander.
	splitSearchFraction = 0.2
)

var splitBoundaries = []string{"\n\n", "\n", ". ", " "}

// Engine embeds chunk batches in parallel with a bounded pool, recovering
// from provider token-limit rejections by halving the offending chunk.
type Engine struct {
	embedder     domain.Embedder
	concurrency  int
	chunkOverlap int
	batchTimeout time.Duration
	logger       zerolog.Logger
}

func NewEngine(embedder domain.Embedder, concurrency, chunkOverlap int, batchTimeout time.Duration, logger zerolog.Logger) *Engine {
	if concurrency <= 0 {
		concurrency = 10
	}
	if batchTimeout <= 0 {
		batchTimeout = 120 * time.Second
	}
	return &Engine{
		embedder:     embedder,
		concurrency:  concurrency,
		chunkOverlap: chunkOverlap,
		batchTimeout: batchTimeout,
		logger:       logger.With().Str("component", "embedding-engine").Logger(),
	}
}

// EmbedChunks embeds every chunk, preserving input order. The output may
// be longer than the input when chunks were split; indices are reassigned
// over the final sequence. Any non-overflow failure fails the batch.
func (e *Engine) EmbedChunks(ctx context.Context, chunks []domain.TextChunk) ([]domain.EmbeddedChunk, domain.SplitStats, error) {
	if len(chunks) == 0 {
		return nil, domain.SplitStats{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.batchTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		stats domain.SplitStats
	)
	results := make([][]domain.EmbeddedChunk, len(chunks))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(e.concurrency)

	for i, chunk := range chunks {
		group.Go(func() error {
			pieces, err := e.embedWithSplit(ctx, chunk, 0, &mu, &stats)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Index, err)
			}
			results[i] = pieces
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, stats, err
	}

	var embedded []domain.EmbeddedChunk
	for _, pieces := range results {
		embedded = append(embedded, pieces...)
	}
	for i := range embedded {
		embedded[i].Index = i
	}

	if stats.SplitsPerformed > 0 {
		e.logger.Info().
			Int("splits", stats.SplitsPerformed).
			Int("max_depth", stats.MaxDepth).
			Int("chunks_in", len(chunks)).
			Int("chunks_out", len(embedded)).
			Msg("adaptive splitting expanded the chunk list")
	}

	return embedded, stats, nil
}

func (e *Engine) embedWithSplit(ctx context.Context, chunk domain.TextChunk, depth int, mu *sync.Mutex, stats *domain.SplitStats) ([]domain.EmbeddedChunk, error) {
	vector, err := e.embedder.Embed(ctx, chunk.Text)
	if err == nil {
		return []domain.EmbeddedChunk{{TextChunk: chunk, Embedding: vector}}, nil
	}

	if !errors.Is(err, domain.ErrEmbeddingOverflow) {
		return nil, err
	}

	if depth >= maxSplitDepth {
		return nil, fmt.Errorf("%w: still over the input limit after %d splits", domain.ErrEmbeddingFailed, maxSplitDepth)
	}

	first, second := e.splitChunk(chunk)

	mu.Lock()
	stats.SplitsPerformed++
	if depth+1 > stats.MaxDepth {
		stats.MaxDepth = depth + 1
	}
	mu.Unlock()

	firstPieces, err := e.embedWithSplit(ctx, first, depth+1, mu, stats)
	if err != nil {
		return nil, err
	}
	secondPieces, err := e.embedWithSplit(ctx, second, depth+1, mu, stats)
	if err != nil {
		return nil, err
	}

	return append(firstPieces, secondPieces...), nil
}

// splitChunk halves the chunk at the boundary nearest the midpoint, within
// ±20% of it, and prepends an overlap to the second half.
func (e *Engine) splitChunk(chunk domain.TextChunk) (domain.TextChunk, domain.TextChunk) {
	runes := []rune(chunk.Text)
	mid := len(runes) / 2
	margin := int(float64(len(runes)) * splitSearchFraction)

	cut := mid
	for _, boundary := range splitBoundaries {
		if pos := nearestBoundary(runes, []rune(boundary), mid, margin); pos >= 0 {
			cut = pos + len([]rune(boundary))
			break
		}
	}
	if cut <= 0 || cut >= len(runes) {
		cut = mid
	}

	overlap := e.chunkOverlap
	if quarter := cut / 4; overlap > quarter {
		overlap = quarter
	}
	secondStart := cut - overlap
	if secondStart < 0 {
		secondStart = 0
	}

	first := domain.TextChunk{
		Text:      string(runes[:cut]),
		StartChar: chunk.StartChar,
		EndChar:   chunk.StartChar + cut,
	}
	second := domain.TextChunk{
		Text:      string(runes[secondStart:]),
		StartChar: chunk.StartChar + secondStart,
		EndChar:   chunk.EndChar,
	}
	return first, second
}

// nearestBoundary returns the boundary start closest to mid within
// [mid-margin, mid+margin), or -1.
func nearestBoundary(runes, sep []rune, mid, margin int) int {
	best := -1
	bestDist := margin + 1

	low := mid - margin
	if low < 0 {
		low = 0
	}
	high := mid + margin
	if high > len(runes)-len(sep) {
		high = len(runes) - len(sep)
	}

	for i := low; i <= high; i++ {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		dist := i - mid
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best = i
			bestDist = dist
		}
	}

	return best
}
