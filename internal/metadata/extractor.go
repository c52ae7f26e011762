// Package metadata extracts a document summary and keyword list with one
// LLM call. Extraction is best-effort: ingestion proceeds without it.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

const (
	// minContentChars skips extraction for trivially short documents.
	minContentChars = 100

	// maxContentChars truncates the LLM input.
	maxContentChars = 25000

	maxKeywords = 20

	maxAttempts    = 5
	initialBackoff = time.Second
)

const extractionPrompt = `Analyze the following document and return ONLY a single valid JSON object:
{"summary": "<2-3 sentence summary>", "keywords": ["<up to %d key terms, most important first>"]}

Document:
"""
%s
"""

JSON:`

// Extractor implements domain.MetadataExtractor over an OpenAI-compatible
// chat API.
type Extractor struct {
	client openai.Client
	model  string
	logger zerolog.Logger
}

func New(cfg config.OpenAIConfig, logger zerolog.Logger) *Extractor {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Extractor{
		client: openai.NewClient(opts...),
		model:  cfg.LLMModel,
		logger: logger.With().Str("component", "metadata-extractor").Logger(),
	}
}

// Extract returns a summary and keyword list for text. Retriable provider
// errors (429, 500, 503, 504) and malformed JSON responses are retried
// with exponential backoff; on exhaustion an empty result is returned so
// ingestion can continue. Non-retriable errors fail fast.
func (e *Extractor) Extract(ctx context.Context, text string) (domain.ExtractedMetadata, error) {
	if countNonSpace(text) < minContentChars {
		return domain.ExtractedMetadata{Keywords: []string{}}, nil
	}

	if len(text) > maxContentChars {
		text = text[:maxContentChars]
	}

	prompt := fmt.Sprintf(extractionPrompt, maxKeywords, text)

	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		extracted, err := e.callOnce(ctx, prompt)
		if err == nil {
			return extracted, nil
		}

		if !isRetriable(err) {
			return domain.ExtractedMetadata{Keywords: []string{}}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
		}

		e.logger.Warn().Int("attempt", attempt).Err(err).Msg("metadata extraction attempt failed")

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return domain.ExtractedMetadata{Keywords: []string{}}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	e.logger.Warn().Int("attempts", maxAttempts).Msg("metadata extraction exhausted retries, proceeding without summary")
	return domain.ExtractedMetadata{Keywords: []string{}}, nil
}

func (e *Extractor) callOnce(ctx context.Context, prompt string) (domain.ExtractedMetadata, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
	}

	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.ExtractedMetadata{}, err
	}
	if len(completion.Choices) == 0 {
		return domain.ExtractedMetadata{}, errors.New("no choices returned")
	}

	var extracted domain.ExtractedMetadata
	raw := stripCodeFence(completion.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &extracted); err != nil {
		return domain.ExtractedMetadata{}, &decodeError{raw: raw, err: err}
	}

	if len(extracted.Keywords) > maxKeywords {
		extracted.Keywords = extracted.Keywords[:maxKeywords]
	}
	if extracted.Keywords == nil {
		extracted.Keywords = []string{}
	}

	return extracted, nil
}

// decodeError marks a malformed LLM response; the model usually produces
// valid JSON on retry.
type decodeError struct {
	raw string
	err error
}

func (d *decodeError) Error() string {
	preview := d.raw
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return fmt.Sprintf("invalid JSON from model: %v (response: %q)", d.err, preview)
}

var retriableStatuses = map[int]struct{}{429: {}, 500: {}, 503: {}, 504: {}}

func isRetriable(err error) bool {
	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		_, retriable := retriableStatuses[apiErr.StatusCode]
		return retriable
	}
	return false
}

// stripCodeFence unwraps ```json fenced responses.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func countNonSpace(s string) int {
	count := 0
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			count++
		}
	}
	return count
}
