// Package store holds the retrieval data model and the index backends:
// lexical BM25 indexes (in-memory, Bleve, SQLite FTS5) and the HNSW vector
// store used by the local vector index.
package store

import (
	"context"
	"fmt"
	"time"
)

// Document is the unit of retrieval. Corpus loaders guarantee that ID is
// unique and that at least one of URL and ID is set.
type Document struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	URL      string            `json:"url,omitempty"`
	Source   string            `json:"source"`
	Category string            `json:"category"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// KeyKind tags a DocumentKey.
type KeyKind int

const (
	KeyNone KeyKind = iota
	KeyURL
	KeyExplicitID
)

// DocumentKey identifies a document across the lexical and vector branches.
// The zero value is invalid.
type DocumentKey struct {
	kind  KeyKind
	value string
}

func URLKey(url string) DocumentKey { return DocumentKey{kind: KeyURL, value: url} }

func IDKey(id string) DocumentKey { return DocumentKey{kind: KeyExplicitID, value: id} }

func (k DocumentKey) Kind() KeyKind { return k.kind }
func (k DocumentKey) Value() string { return k.value }
func (k DocumentKey) IsZero() bool { return k.kind == KeyNone }

func (k DocumentKey) String() string {
	switch k.kind {
	case KeyURL:
		return "url:" + k.value
	case KeyExplicitID:
		return "id:" + k.value
	default:
		return "none"
	}
}

// Key returns the document's merge key, preferring the URL. ok is false when
// the document carries neither a URL nor an ID.
func (d Document) Key() (DocumentKey, bool) {
	switch {
	case d.URL != "":
		return URLKey(d.URL), true
	case d.ID != "":
		return IDKey(d.ID), true
	default:
		return DocumentKey{}, false
	}
}

// BM25Result is a single lexical hit. DocIndex is the document's position in
// the corpus passed to Build.
type BM25Result struct {
	DocIndex     int
	Document     Document
	Score        float64
	MatchedTerms []string
}

// IndexStats describes a lexical index.
type IndexStats struct {
	Backend       string  `json:"backend"`
	Built         bool    `json:"built"`
	DocumentCount int     `json:"document_count"`
	SkippedCount  int     `json:"skipped_count"`
	TermCount     int     `json:"term_count"`
	AvgDocLength  float64 `json:"avg_doc_length"`
}

// LexicalIndex ranks a corpus by BM25.
//
// Build replaces any prior state. An index built from a corpus with no
// indexable documents stays unbuilt. Search on an unbuilt index returns no
// results and no error; only strictly positive scores are returned, ties in
// corpus order.
type LexicalIndex interface {
	Build(ctx context.Context, docs []Document) error
	Search(ctx context.Context, query string, limit int) ([]BM25Result, error)
	Stats() IndexStats
	Close() error
}

// PersistentIndex is a LexicalIndex whose Build also saves the index at its
// path. Load reopens the saved index and reports when it was built; it fails
// with ErrNoSavedIndex when nothing was saved.
type PersistentIndex interface {
	LexicalIndex
	Load(ctx context.Context) (time.Time, error)
}

// BM25Config holds the Okapi BM25 parameters.
type BM25Config struct {
	K1 float64 `yaml:"k1" toml:"k1"`
	B  float64 `yaml:"b" toml:"b"`
}

// DefaultBM25Config matches the rank_bm25 BM25Okapi defaults. Only the
// memory backend reads it; Bleve and FTS5 have their own fixed parameters.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// Candidate is a vector search hit. Smaller Distance means more similar.
type Candidate struct {
	Document Document
	Distance float64
}

// VectorIndex is the dense similarity search contract. Candidates come back
// ordered by ascending distance.
type VectorIndex interface {
	Query(ctx context.Context, text string, k int) ([]Candidate, error)
}

// Pinger is implemented by vector indexes that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// VectorStoreConfig configures the HNSW store.
type VectorStoreConfig struct {
	Dimensions int    `yaml:"dimensions" toml:"dimensions"`
	Metric     string `yaml:"metric" toml:"metric"` // "cos" or "l2"
	M          int    `yaml:"m" toml:"m"`
	EfSearch   int    `yaml:"ef_search" toml:"ef_search"`
}

func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   50,
	}
}

// VectorHit is a raw HNSW result.
type VectorHit struct {
	ID       string
	Distance float32
}

// ErrDimensionMismatch is returned when a vector's length does not match
// the store.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
