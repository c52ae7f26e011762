package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

// APIReranker calls a vendor rerank endpoint (or a self-hosted
// cross-encoder scoring service) in a single request.
type APIReranker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   zerolog.Logger
}

func NewAPIReranker(cfg config.RerankerConfig, logger zerolog.Logger) (*APIReranker, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("%w: reranker type %q requires an API URL", domain.ErrRerankerUnavailable, cfg.Type)
	}

	return &APIReranker{
		endpoint: cfg.APIURL,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.With().Str("component", "api-reranker").Logger(),
	}, nil
}

type apiRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type apiResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *APIReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]domain.RerankedDocument, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(apiRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: rerank endpoint returned %d", domain.ErrRerankerUnavailable, resp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrRerankerUnavailable, err)
	}

	ranked := make([]domain.RerankedDocument, 0, len(decoded.Results))
	for _, result := range decoded.Results {
		if result.Index < 0 || result.Index >= len(documents) {
			r.logger.Warn().Int("index", result.Index).Msg("rerank endpoint returned unknown index")
			continue
		}
		ranked = append(ranked, domain.RerankedDocument{
			Index: result.Index,
			Score: clamp01(result.RelevanceScore),
			Text:  documents[result.Index],
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

func (r *APIReranker) ModelInfo() map[string]string {
	return map[string]string{"type": "api", "model": r.model, "endpoint": r.endpoint}
}

func (r *APIReranker) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
