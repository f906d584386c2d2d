// Package embed turns text into dense vectors for the local vector index.
//
// Three providers are available: a deterministic hashing embedder that needs
// no network, Ollama's /api/embed endpoint, and the OpenAI embeddings API.
// Any of them can be wrapped in an LRU cache keyed by text and model.
package embed

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

const (
	// StaticDimensions is the vector size of StaticEmbedder.
	StaticDimensions = 256

	DefaultBatchSize = 32
	DefaultTimeout   = 60 * time.Second

	// DefaultCacheSize is the number of query embeddings kept in memory.
	DefaultCacheSize = 1000
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size, or 0 if not yet known.
	Dimensions() int
	ModelName() string

	// Available reports whether the embedder can serve requests now.
	Available(ctx context.Context) bool
	Close() error
}

// Provider names an Embedder implementation.
type Provider string

const (
	ProviderStatic Provider = "static"
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config selects and configures an embedder.
type Config struct {
	Provider   string
	Model      string
	Host       string
	BaseURL    string
	APIKey     string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	CacheSize  int

	// RequestsPerSecond throttles calls to remote providers; 0 disables it.
	RequestsPerSecond float64
}

func DefaultConfig() Config {
	return Config{
		Provider:  string(ProviderStatic),
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		CacheSize: DefaultCacheSize,
	}
}

func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// newLimiter returns nil when rps is not positive.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// waitLimiter blocks until l admits one request. A nil limiter never blocks.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
