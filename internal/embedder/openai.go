// Package embedder generates chunk embeddings through an OpenAI-compatible
// API, splitting oversized inputs adaptively.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

// OpenAIEmbedder implements domain.Embedder over the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(cfg config.OpenAIConfig, dimension int) *OpenAIEmbedder {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.EmbeddingModel,
		dimension: dimension,
	}
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

// Embed returns one vector for text. Token-limit rejections are surfaced
// as domain.ErrEmbeddingOverflow so the engine can split and retry.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: empty text", domain.ErrInvalidInput)
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	embedding, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if isOverflow(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingOverflow, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingFailed, err)
	}

	if len(embedding.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding data returned", domain.ErrEmbeddingFailed)
	}

	vector := make([]float32, len(embedding.Data[0].Embedding))
	for i, v := range embedding.Data[0].Embedding {
		vector[i] = float32(v)
	}

	return vector, nil
}

// isOverflow recognises input-too-large rejections: HTTP 400 with a
// token/length complaint in the message.
func isOverflow(err error) bool {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != 400 {
		return false
	}
	message := strings.ToLower(apiErr.Error())
	return strings.Contains(message, "token") || strings.Contains(message, "exceed")
}
