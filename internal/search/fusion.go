package search

import (
	"log/slog"
	"sort"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

// Fusion merges vector candidates and BM25 hits into weighted results.
//
// Algorithm: hybrid(d) = Vector * 1/(1+distance(d)) + BM25 * bm25(d)
//
// A document missing from one branch scores 0 there. When both branches
// return a document the vector copy is kept.
type Fusion struct {
	Weights       Weights
	DisplayLength int
}

// NewFusion creates a fusion with the given weights and display length.
func NewFusion(w Weights, displayLength int) *Fusion {
	return &Fusion{Weights: w, DisplayLength: displayLength}
}

// Similarity converts a vector distance into a score in [0,1].
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

type fusedEntry struct {
	result  SearchResult
	hasBM25 bool
}

// Fuse returns at most k results, ranked by hybrid score. Equal scores keep
// first-seen order: vector candidates in their order, then lexical hits.
func (f *Fusion) Fuse(vec []store.Candidate, lex []store.BM25Result, k int) []SearchResult {
	if k <= 0 || (len(vec) == 0 && len(lex) == 0) {
		return []SearchResult{}
	}

	entries := make(map[store.DocumentKey]*fusedEntry, len(vec)+len(lex))
	order := make([]*fusedEntry, 0, len(vec)+len(lex))

	for _, c := range vec {
		key, ok := c.Document.Key()
		if !ok {
			slog.Warn("fusion_result_dropped", slog.String("branch", "vector"), slog.String("title", c.Document.Title))
			continue
		}
		if _, seen := entries[key]; seen {
			continue
		}
		e := &fusedEntry{result: f.newResult(c.Document)}
		e.result.VectorScore = Similarity(c.Distance)
		entries[key] = e
		order = append(order, e)
	}

	for _, r := range lex {
		key, ok := r.Document.Key()
		if !ok {
			slog.Warn("fusion_result_dropped", slog.String("branch", "bm25"), slog.String("title", r.Document.Title))
			continue
		}
		e, seen := entries[key]
		if !seen {
			e = &fusedEntry{result: f.newResult(r.Document)}
			entries[key] = e
			order = append(order, e)
		} else if e.hasBM25 {
			continue
		}
		e.hasBM25 = true
		e.result.BM25Score = r.Score
		e.result.MatchedTerms = r.MatchedTerms
	}

	results := make([]SearchResult, len(order))
	for i, e := range order {
		e.result.HybridScore = f.Weights.Vector*e.result.VectorScore + f.Weights.BM25*e.result.BM25Score
		results[i] = e.result
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].HybridScore > results[j].HybridScore
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (f *Fusion) newResult(d store.Document) SearchResult {
	return SearchResult{
		ID:          d.ID,
		Title:       d.Title,
		Content:     Truncate(d.Content, f.DisplayLength),
		FullContent: d.Content,
		URL:         d.URL,
		Source:      d.Source,
		Category:    d.Category,
		Metadata:    d.Metadata,
	}
}

// Truncate cuts s to n runes and appends "..." when it was longer. n <= 0
// disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
