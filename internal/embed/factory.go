package embed

import (
	"fmt"
	"strings"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// New builds the embedder selected by cfg.Provider, wrapped in a cache
// unless cfg.CacheSize is negative.
func New(cfg Config) (Embedder, error) {
	var inner Embedder
	switch Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case "", ProviderStatic:
		inner = NewStaticEmbedder()
	case ProviderOllama:
		inner = NewOllamaEmbedder(cfg)
	case ProviderOpenAI:
		e, err := NewOpenAIEmbedder(cfg)
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, kberrors.ConfigError(fmt.Sprintf("unknown embeddings provider %q", cfg.Provider), nil).
			WithSuggestion("use one of: static, ollama, openai")
	}

	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.CacheSize), nil
}
