// Package search implements hybrid retrieval over a support knowledge base.
// A query is enhanced, sent to the vector and BM25 branches in parallel, and
// the two candidate lists are merged by document key into a weighted score.
package search

import (
	"fmt"
	"strings"
	"time"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// Mode selects which branches a search runs.
type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeVector Mode = "vector"
	ModeBM25   Mode = "bm25"
)

// Modes lists the accepted modes.
func Modes() []Mode { return []Mode{ModeHybrid, ModeVector, ModeBM25} }

// ParseMode accepts a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeHybrid, ModeVector, ModeBM25:
		return m, nil
	}
	return "", kberrors.New(kberrors.ErrCodeInvalidMode, fmt.Sprintf("invalid search mode %q", s), nil).
		WithSuggestion("use one of: hybrid, vector, bm25")
}

// Weights are the coefficients of the hybrid score.
type Weights struct {
	Vector float64 `json:"vector" yaml:"vector_weight" toml:"vector_weight"`
	BM25   float64 `json:"bm25" yaml:"bm25_weight" toml:"bm25_weight"`
}

func DefaultWeights() Weights {
	return Weights{Vector: 0.7, BM25: 0.3}
}

// SearchResult is one ranked passage.
type SearchResult struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	FullContent string            `json:"full_content"`
	URL         string            `json:"url"`
	Source      string            `json:"source"`
	Category    string            `json:"category"`
	VectorScore float64           `json:"vector_score"`
	BM25Score   float64           `json:"bm25_score"`
	HybridScore float64           `json:"hybrid_score"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	// MatchedTerms are the query terms the lexical branch matched.
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// QueryAnalysis shows how a query was rewritten.
type QueryAnalysis struct {
	Query         string   `json:"query"`
	EnhancedQuery string   `json:"enhanced_query"`
	Keywords      []string `json:"keywords"`
}

// EngineConfig configures the engine.
type EngineConfig struct {
	// CollectionName labels the corpus in stats output.
	CollectionName string

	Weights Weights

	// OverfetchFactor multiplies k for each branch in hybrid mode.
	OverfetchFactor int

	// DisplayLength is the rune limit of SearchResult.Content.
	DisplayLength int

	// VectorTimeout bounds the vector branch (default: 5s).
	VectorTimeout time.Duration

	// LazyInit lets Search trigger Initialize.
	LazyInit bool

	// BreakerMaxFailures and BreakerResetTimeout configure the circuit
	// breaker around the vector branch.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		CollectionName:      "knowledge_base",
		Weights:             DefaultWeights(),
		OverfetchFactor:     2,
		DisplayLength:       500,
		VectorTimeout:       5 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// EngineStats describes the engine's current state.
type EngineStats struct {
	CollectionName     string    `json:"collection_name"`
	TotalDocuments     int       `json:"total_documents"`
	LexicalInitialized bool      `json:"lexical_initialized"`
	IndexedDocuments   int       `json:"indexed_documents"`
	SkippedDocuments   int       `json:"skipped_documents"`
	LexicalBackend     string    `json:"lexical_backend"`
	Weights            Weights   `json:"weights"`
	VectorConfigured   bool      `json:"vector_configured"`
	VectorBreaker      string    `json:"vector_breaker"`
	OverfetchFactor    int       `json:"overfetch_factor"`
	LastRefresh        time.Time `json:"last_refresh"`
}
