package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

const DefaultOpenAIModel = openai.EmbeddingModelTextEmbedding3Small

var openAIModelDimensions = map[string]int{
	string(openai.EmbeddingModelTextEmbedding3Small): 1536,
	string(openai.EmbeddingModelTextEmbedding3Large): 3072,
	string(openai.EmbeddingModelTextEmbeddingAda002): 1536,
}

// OpenAIEmbedder uses the OpenAI embeddings endpoint, or any compatible
// server reachable through BaseURL. Retries are left to the SDK.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dims      int
	batchSize int
	hasKey    bool
	limiter   *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

func NewOpenAIEmbedder(cfg Config, opts ...option.RequestOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, kberrors.ConfigError("openai embedder requires an API key", nil).
			WithSuggestion("set embeddings.api_key or KBSEARCH_OPENAI_API_KEY")
	}
	model := cfg.Model
	if model == "" {
		model = string(DefaultOpenAIModel)
	}
	dims := cfg.Dimensions
	if dims == 0 {
		dims = openAIModelDimensions[model]
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	all := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		all = append(all, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		all = append(all, option.WithRequestTimeout(cfg.Timeout))
	}
	all = append(all, opts...)

	return &OpenAIEmbedder{
		client:    openai.NewClient(all...),
		model:     model,
		dims:      dims,
		batchSize: batch,
		hasKey:    true,
		limiter:   newLimiter(cfg.RequestsPerSecond),
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		if err := waitLimiter(ctx, e.limiter); err != nil {
			return nil, err
		}
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(e.model),
	}
	// only the text-embedding-3 family accepts a dimensions override
	if e.model != string(openai.EmbeddingModelTextEmbeddingAda002) && e.dims > 0 {
		params.Dimensions = openai.Int(int64(e.dims))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus("openai", apiErr.StatusCode, []byte(apiErr.Message))
		}
		return nil, kberrors.NetworkError("openai request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts)), nil)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(vecs) {
			return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("openai returned out of range index %d", d.Index), nil)
		}
		vecs[d.Index] = normalizeVector(toFloat32(d.Embedding))
	}
	return vecs, nil
}

func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available only checks local configuration; probing the API would cost a
// billed request.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasKey && !e.closed
}

func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
