// Package vector implements store.VectorIndex on top of an embedder and an
// in-process HNSW graph.
package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

const (
	graphFile    = "vectors.hnsw"
	documentFile = "documents.json"
)

// manifest is persisted next to the graph so a later load can refuse an
// index built with a different model.
type manifest struct {
	Model      string           `json:"model"`
	Dimensions int              `json:"dimensions"`
	BuiltAt    time.Time        `json:"built_at"`
	Documents  []store.Document `json:"documents"`
}

// LocalIndex embeds documents at build time and answers queries by
// embedding the query text and searching the HNSW graph.
type LocalIndex struct {
	embedder embed.Embedder

	mu      sync.RWMutex
	hnsw    *store.HNSWStore
	docs    map[string]store.Document
	builtAt time.Time
}

var (
	_ store.VectorIndex = (*LocalIndex)(nil)
	_ store.Pinger      = (*LocalIndex)(nil)
)

func NewLocalIndex(embedder embed.Embedder) *LocalIndex {
	return &LocalIndex{embedder: embedder, docs: make(map[string]store.Document)}
}

// embeddingText is what gets embedded for a document.
func embeddingText(doc store.Document) string {
	if doc.Title == "" {
		return doc.Content
	}
	return doc.Title + "\n\n" + doc.Content
}

// Build embeds docs and replaces the current graph. Documents without a key
// or content are skipped.
func (l *LocalIndex) Build(ctx context.Context, docs []store.Document) error {
	start := time.Now()

	ids := make([]string, 0, len(docs))
	texts := make([]string, 0, len(docs))
	slot := make(map[string]int, len(docs))
	byID := make(map[string]store.Document, len(docs))
	for _, doc := range docs {
		key, ok := doc.Key()
		if !ok || strings.TrimSpace(doc.Content) == "" {
			slog.Warn("vector_document_skipped", slog.String("title", doc.Title))
			continue
		}
		id := key.String()
		// a repeated key keeps its first slot; the last copy wins
		if i, dup := slot[id]; dup {
			texts[i] = embeddingText(doc)
		} else {
			slot[id] = len(ids)
			ids = append(ids, id)
			texts = append(texts, embeddingText(doc))
		}
		byID[id] = doc
	}

	if len(ids) == 0 {
		l.swap(nil, byID)
		slog.Info("vector_index_built", slog.Int("documents", 0))
		return nil
	}

	vecs, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embed corpus", err)
	}
	dims := l.embedder.Dimensions()
	if dims == 0 && len(vecs) > 0 {
		dims = len(vecs[0])
	}

	// zero vectors have no cosine distance to anything
	kept := 0
	for i := range ids {
		if isZero(vecs[i]) {
			slog.Warn("vector_document_skipped", slog.String("id", ids[i]), slog.String("reason", "zero embedding"))
			delete(byID, ids[i])
			continue
		}
		ids[kept], vecs[kept] = ids[i], vecs[i]
		kept++
	}
	ids, vecs = ids[:kept], vecs[:kept]

	hnsw, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims))
	if err != nil {
		return kberrors.New(kberrors.ErrCodeIndexBuild, "create vector store", err)
	}
	if err := hnsw.Add(ctx, ids, vecs); err != nil {
		_ = hnsw.Close()
		return kberrors.New(kberrors.ErrCodeIndexBuild, "add vectors", err)
	}

	l.swap(hnsw, byID)
	slog.Info("vector_index_built",
		slog.Int("documents", len(ids)),
		slog.Int("dimensions", dims),
		slog.String("model", l.embedder.ModelName()),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (l *LocalIndex) swap(hnsw *store.HNSWStore, docs map[string]store.Document) {
	l.mu.Lock()
	old := l.hnsw
	l.hnsw = hnsw
	l.docs = docs
	l.builtAt = time.Now()
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// Query returns up to k candidates ordered by ascending cosine distance.
func (l *LocalIndex) Query(ctx context.Context, text string, k int) ([]store.Candidate, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return []store.Candidate{}, nil
	}

	l.mu.RLock()
	hnsw := l.hnsw
	l.mu.RUnlock()
	if hnsw == nil || hnsw.Count() == 0 {
		return []store.Candidate{}, nil
	}

	q, err := l.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if isZero(q) {
		// no usable signal; cosine distance is undefined
		return []store.Candidate{}, nil
	}

	hits, err := hnsw.Search(ctx, q, k)
	if err != nil {
		var dm store.ErrDimensionMismatch
		if errors.As(err, &dm) {
			return nil, kberrors.New(kberrors.ErrCodeDimensionMismatch, dm.Error(), err).
				WithSuggestion("run 'kbsearch index' again after changing the embedder")
		}
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]store.Candidate, 0, len(hits))
	for _, h := range hits {
		doc, ok := l.docs[h.ID]
		if !ok {
			continue
		}
		out = append(out, store.Candidate{Document: doc, Distance: float64(h.Distance)})
	}
	return out, nil
}

// Ping fails when the embedder cannot serve requests.
func (l *LocalIndex) Ping(ctx context.Context) error {
	if !l.embedder.Available(ctx) {
		return kberrors.New(kberrors.ErrCodeVectorUnavailable,
			fmt.Sprintf("embedder %s is not available", l.embedder.ModelName()), nil).
			WithSuggestion("check the embeddings provider configuration or use --mode bm25")
	}
	return nil
}

// Count is the number of indexed documents.
func (l *LocalIndex) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.hnsw == nil {
		return 0
	}
	return l.hnsw.Count()
}

// ModelName reports the embedding model in use.
func (l *LocalIndex) ModelName() string { return l.embedder.ModelName() }

// Save writes the graph and documents under dir.
func (l *LocalIndex) Save(dir string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.hnsw == nil {
		return fmt.Errorf("vector index is not built")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := l.hnsw.Save(filepath.Join(dir, graphFile)); err != nil {
		return err
	}

	m := manifest{
		Model:      l.embedder.ModelName(),
		Dimensions: l.hnsw.Dimensions(),
		BuiltAt:    l.builtAt,
		Documents:  make([]store.Document, 0, len(l.docs)),
	}
	for _, d := range l.docs {
		m.Documents = append(m.Documents, d)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, documentFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load replaces the index with one saved in dir. It fails with a corrupt
// index error when the files are unreadable or disagree, and with a dimension
// mismatch when the saved model or vector size differs from the configured
// embedder. An embedder that has not learned its size yet is checked by
// model name only.
func (l *LocalIndex) Load(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, documentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return kberrors.New(kberrors.ErrCodeFileNotFound, "no saved vector index in "+dir, err).
				WithSuggestion("run 'kbsearch index' first")
		}
		return kberrors.IOError("read vector manifest", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "decode vector manifest", err)
	}
	if m.Model != l.embedder.ModelName() {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector index was built with %s, embedder is %s", m.Model, l.embedder.ModelName()), nil).
			WithSuggestion("run 'kbsearch index' again")
	}

	if d := l.embedder.Dimensions(); d > 0 && m.Dimensions != d {
		return kberrors.New(kberrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("vector index has %d dimensions, embedder produces %d", m.Dimensions, d), nil).
			WithSuggestion("run 'kbsearch index' again")
	}

	hnsw, err := store.LoadHNSWStore(filepath.Join(dir, graphFile))
	if err != nil {
		return kberrors.New(kberrors.ErrCodeCorruptIndex, "load vector graph", err)
	}
	if hnsw.Dimensions() != m.Dimensions {
		_ = hnsw.Close()
		return kberrors.New(kberrors.ErrCodeCorruptIndex,
			fmt.Sprintf("vector graph has %d dimensions, manifest records %d", hnsw.Dimensions(), m.Dimensions), nil)
	}

	docs := make(map[string]store.Document, len(m.Documents))
	for _, d := range m.Documents {
		if key, ok := d.Key(); ok {
			docs[key.String()] = d
		}
	}

	l.mu.Lock()
	old := l.hnsw
	l.hnsw = hnsw
	l.docs = docs
	l.builtAt = m.BuiltAt
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	slog.Info("vector_index_loaded", slog.Int("documents", hnsw.Count()), slog.String("model", m.Model))
	return nil
}

// Close releases the graph and the embedder.
func (l *LocalIndex) Close() error {
	l.mu.Lock()
	hnsw := l.hnsw
	l.hnsw = nil
	l.mu.Unlock()
	if hnsw != nil {
		_ = hnsw.Close()
	}
	return l.embedder.Close()
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
