package embedder

import (
	"fmt"
	"strings"

	"github.com/basonpark/ether-guru/internal/config"
)

// New creates the embedder selected by cfg. The config loader has already
// resolved an empty provider from the API keys in the environment.
func New(cfg config.EmbedConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	opts := ProviderOptions{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
		Retries:   cfg.Retries,
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(opts, cache)
	case ProviderJina:
		return NewJinaProvider(opts, cache)
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Dimension, cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
