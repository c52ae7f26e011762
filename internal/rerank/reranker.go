// Package rerank reorders search candidates by query relevance. Variants
// are interchangeable behind domain.Reranker; a factory picks one from
// configuration and caches a single instance per process.
package rerank

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/liliang-cn/ragstore/internal/config"
	"github.com/liliang-cn/ragstore/internal/domain"
)

var (
	factoryMu sync.Mutex
	cached    domain.Reranker
)

// FromConfig returns the process-wide reranker instance, creating it on
// first call. Disabled configuration yields domain.ErrRerankerUnavailable;
// callers degrade by skipping the rerank stage.
func FromConfig(cfg config.RerankerConfig, openaiCfg config.OpenAIConfig, logger zerolog.Logger) (domain.Reranker, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: reranking disabled by configuration", domain.ErrRerankerUnavailable)
	}

	factoryMu.Lock()
	defer factoryMu.Unlock()

	if cached != nil {
		return cached, nil
	}

	var (
		reranker domain.Reranker
		err      error
	)

	switch cfg.Type {
	case "llm":
		reranker = NewLLMReranker(cfg, openaiCfg, logger)
	case "api", "cross-encoder":
		// Cross-encoder scoring runs behind an HTTP endpoint; both
		// variants share the remote-API client.
		reranker, err = NewAPIReranker(cfg, logger)
	default:
		err = fmt.Errorf("%w: unknown reranker type %q", domain.ErrRerankerUnavailable, cfg.Type)
	}

	if err != nil {
		return nil, err
	}

	cached = reranker
	return cached, nil
}

// ResetFactory drops the cached instance. Test hook.
func ResetFactory() {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if cached != nil {
		_ = cached.Close()
		cached = nil
	}
}
