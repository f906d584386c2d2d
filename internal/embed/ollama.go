package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// OllamaEmbedder calls a local or remote Ollama server. Transient failures
// (connection errors, 5xx) are retried with backoff; 4xx responses are not.
type OllamaEmbedder struct {
	client    *http.Client
	host      string
	model     string
	batchSize int
	retry     kberrors.RetryConfig
	limiter   *rate.Limiter

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder without contacting the server; use
// Available to check reachability.
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	host := strings.TrimRight(cfg.Host, "/")
	if host == "" {
		host = DefaultOllamaHost
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	retry := kberrors.DefaultRetryConfig()
	retry.Jitter = true
	retry.RetryIf = kberrors.IsRetryable

	return &OllamaEmbedder{
		client:    &http.Client{Timeout: timeout},
		host:      host,
		model:     model,
		batchSize: batch,
		retry:     retry,
		limiter:   newLimiter(cfg.RequestsPerSecond),
		dims:      cfg.Dimensions,
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in chunks of the configured batch size.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		vecs, err := kberrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			if err := waitLimiter(ctx, e.limiter); err != nil {
				return nil, err
			}
			return e.embed(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.NetworkError("ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, kberrors.NetworkError("read ollama response", err)
	}
	if err := classifyStatus("ollama", resp.StatusCode, data); err != nil {
		return nil, err
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return nil, kberrors.New(kberrors.ErrCodeEmbedderRejected, "ollama: "+parsed.Error, nil)
	}
	if len(parsed.Embeddings) != len(texts) {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(parsed.Embeddings))
	for i, v := range parsed.Embeddings {
		vecs[i] = normalizeVector(toFloat32(v))
	}
	e.recordDims(len(vecs[0]))

	slog.Debug("ollama_embed",
		slog.String("model", e.model),
		slog.Int("inputs", len(texts)),
		slog.Duration("elapsed", time.Since(start)))
	return vecs, nil
}

func (e *OllamaEmbedder) recordDims(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = n
	}
}

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

func (e *OllamaEmbedder) ModelName() string { return e.model }

// Available reports whether /api/tags answers with 200.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

// classifyStatus maps an HTTP status to a retryable network error (5xx,
// 429) or a permanent rejection (other 4xx).
func classifyStatus(provider string, status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}
	msg := fmt.Sprintf("%s returned status %d: %s", provider, status, strings.TrimSpace(string(body)))
	if status >= 500 || status == http.StatusTooManyRequests {
		return kberrors.NetworkError(msg, nil).WithDetail("status", fmt.Sprint(status))
	}
	return kberrors.New(kberrors.ErrCodeEmbedderRejected, msg, nil).WithDetail("status", fmt.Sprint(status))
}
