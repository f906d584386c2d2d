package embed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

func fastOllama(t *testing.T, url string) *OllamaEmbedder {
	t.Helper()
	e := NewOllamaEmbedder(Config{Host: url, Model: "test-embed", BatchSize: 2, Timeout: 5 * time.Second})
	e.retry.InitialDelay = time.Millisecond
	e.retry.MaxDelay = 2 * time.Millisecond
	return e
}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/embed":
			requests.Add(1)
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-embed", req.Model)
			resp := ollamaEmbedResponse{Model: req.Model}
			for _, in := range req.Input {
				resp.Embeddings = append(resp.Embeddings, []float64{float64(len(in)), 0})
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	e := fastOllama(t, srv.URL)
	assert.True(t, e.Available(ctx))
	assert.Equal(t, 0, e.Dimensions())

	vecs, err := e.EmbedBatch(ctx, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 0}, vecs[2])
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, 2, e.Dimensions())
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
	}))
	defer srv.Close()

	v, err := fastOllama(t, srv.URL).Embed(context.Background(), "kiosk")
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaEmbedder_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastOllama(t, srv.URL).Embed(context.Background(), "kiosk")
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbedderRejected, kberrors.GetCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOllamaEmbedder_RateLimited(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := ollamaEmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	// One request per minute: the first batch passes, the second cannot
	// be admitted before the deadline.
	e := NewOllamaEmbedder(Config{Host: srv.URL, BatchSize: 1, RequestsPerSecond: 1.0 / 60})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := e.EmbedBatch(ctx, []string{"a", "b"})
	require.Error(t, err)
	assert.Equal(t, int32(1), requests.Load())
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	assert.Nil(t, newLimiter(-1))
	assert.NoError(t, waitLimiter(context.Background(), nil))

	l := newLimiter(5)
	require.NotNil(t, l)
	assert.NoError(t, waitLimiter(context.Background(), l))
}

func TestOllamaEmbedder_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := fastOllama(t, url)
	assert.False(t, e.Available(context.Background()))
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Input      []string `json:"input"`
			Model      string   `json:"model"`
			Dimensions int      `json:"dimensions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 4, req.Dimensions)

		type item struct {
			Object    string    `json:"object"`
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		// reply out of order to check index handling
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			vec := []float64{0, 0, 0, 0}
			vec[j] = 1
			data[i] = item{Object: "embedding", Index: j, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(
		Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Dimensions: 4},
		option.WithMaxRetries(0),
	)
	require.NoError(t, err)
	assert.True(t, e.Available(context.Background()))
	assert.Equal(t, 4, e.Dimensions())

	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[1])
}

func TestOpenAIEmbedder_RejectedRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Config{APIKey: "sk-bad", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "kiosk")
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeEmbedderRejected, kberrors.GetCode(err))
	assert.False(t, kberrors.IsRetryable(err))
}
