package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

const (
	// batchSize documents are scored per LLM call; small batches keep the
	// model's relative judgments sharp.
	batchSize = 2

	// maxConcurrentBatches bounds parallel rerank calls.
	maxConcurrentBatches = 10

	// rawScoreScale is the 0..N scale the prompt requests; scores are
	// normalised by it.
	rawScoreScale = 10.0
)

const rerankPrompt = `Rate the relevance of each document to the query on a scale of 0 to 10.

Query: %s

%s

Return ONLY a JSON array, one entry per document:
[{"index": <document index>, "relevance_score": <0-10>, "reasoning": "<one short sentence>"}]`

// LLMReranker scores candidate texts in small parallel LLM batches.
type LLMReranker struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

func NewLLMReranker(cfg config.RerankerConfig, openaiCfg config.OpenAIConfig, logger zerolog.Logger) *LLMReranker {
	opts := []option.RequestOption{
		option.WithAPIKey(openaiCfg.APIKey),
	}
	if openaiCfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(openaiCfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = openaiCfg.LLMModel
	}

	return &LLMReranker{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger.With().Str("component", "llm-reranker").Logger(),
	}
}

type batchEntry struct {
	Index     int     `json:"index"`
	Score     float64 `json:"relevance_score"`
	Reasoning string  `json:"reasoning"`
}

// Rerank scores all documents and returns the top topK sorted by score
// descending. Documents the model fails to score carry score 0.
func (r *LLMReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RerankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	scores := make([]float64, len(documents))
	reasons := make([]string, len(documents))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentBatches)

	for start := 0; start < len(documents); start += batchSize {
		end := start + batchSize
		if end > len(documents) {
			end = len(documents)
		}
		group.Go(func() error {
			entries, err := r.scoreBatch(ctx, query, documents, start, end)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if entry.Index < start || entry.Index >= end {
					r.logger.Warn().Int("index", entry.Index).Msg("reranker returned out-of-batch index")
					continue
				}
				scores[entry.Index] = entry.Score / rawScoreScale
				reasons[entry.Index] = entry.Reasoning
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}

	ranked := make([]domain.RerankedDocument, len(documents))
	for i := range documents {
		ranked[i] = domain.RerankedDocument{
			Index:     i,
			Score:     clamp01(scores[i]),
			Text:      documents[i],
			Reasoning: reasons[i],
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (r *LLMReranker) scoreBatch(ctx context.Context, query string, documents []string, start, end int) ([]batchEntry, error) {
	var listing strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&listing, "Document %d:\n%s\n\n", i, documents[i])
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(fmt.Sprintf(rerankPrompt, query, listing.String())),
		},
		Temperature: openai.Float(0),
	}

	completion, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "```"), "\n")

	var entries []batchEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &entries); err != nil {
		return nil, fmt.Errorf("invalid rerank response: %w", err)
	}
	return entries, nil
}

func (r *LLMReranker) ModelInfo() map[string]string {
	return map[string]string{"type": "llm", "model": r.model}
}

func (r *LLMReranker) Close() error {
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
