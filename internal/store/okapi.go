package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBM25Index is an in-process Okapi BM25 index. It is the default
// lexical backend and scores exactly:
//
//	idf(t)     = ln(1 + (N - n(t) + 0.5) / (n(t) + 0.5))
//	score(d,q) = sum over query tokens t of
//	             idf(t) * tf(t,d) * (k1 + 1) / (tf(t,d) + k1 * (1 - b + b*|d|/avgdl))
//
// Repeated query tokens contribute once per occurrence.
type MemoryBM25Index struct {
	mu     sync.RWMutex
	config BM25Config
	closed bool

	docs     []indexable
	termFreq []map[string]int
	docFreq  map[string]int
	avgDL    float64
	skipped  int
}

var _ LexicalIndex = (*MemoryBM25Index)(nil)

func NewMemoryBM25Index(config BM25Config) *MemoryBM25Index {
	if config.K1 <= 0 {
		config.K1 = DefaultBM25Config().K1
	}
	if config.B < 0 || config.B > 1 {
		config.B = DefaultBM25Config().B
	}
	return &MemoryBM25Index{config: config}
}

// Build replaces the index contents with docs.
func (m *MemoryBM25Index) Build(ctx context.Context, docs []Document) error {
	prepared, skipped := prepareCorpus(docs, string(BackendMemory))

	termFreq := make([]map[string]int, len(prepared))
	docFreq := make(map[string]int)
	total := 0
	for i, d := range prepared {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		tf := make(map[string]int, len(d.tokens))
		for _, tok := range d.tokens {
			tf[tok]++
		}
		for tok := range tf {
			docFreq[tok]++
		}
		termFreq[i] = tf
		total += len(d.tokens)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("index is closed")
	}

	m.docs = prepared
	m.termFreq = termFreq
	m.docFreq = docFreq
	m.skipped = skipped
	m.avgDL = 0
	if len(prepared) > 0 {
		m.avgDL = float64(total) / float64(len(prepared))
	}
	return nil
}

// Search scores every indexed document against query.
func (m *MemoryBM25Index) Search(ctx context.Context, query string, limit int) ([]BM25Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("index is closed")
	}
	terms := Tokenize(query)
	if len(m.docs) == 0 || len(terms) == 0 || limit <= 0 {
		return []BM25Result{}, nil
	}

	n := float64(len(m.docs))
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		if _, ok := idf[t]; ok {
			continue
		}
		df := float64(m.docFreq[t])
		idf[t] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	k1, b := m.config.K1, m.config.B
	results := make([]BM25Result, 0)
	for i, d := range m.docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		tf := m.termFreq[i]
		norm := k1 * (1 - b + b*float64(len(d.tokens))/m.avgDL)
		var score float64
		for _, t := range terms {
			f := float64(tf[t])
			if f == 0 {
				continue
			}
			score += idf[t] * f * (k1 + 1) / (f + norm)
		}
		if score > 0 {
			results = append(results, BM25Result{
				DocIndex:     d.pos,
				Document:     d.doc,
				Score:        score,
				MatchedTerms: matchedTerms(terms, tf),
			})
		}
	}

	// results are already in corpus order, so a stable sort keeps it for ties
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *MemoryBM25Index) Stats() IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return IndexStats{
		Backend:       string(BackendMemory),
		Built:         len(m.docs) > 0,
		DocumentCount: len(m.docs),
		SkippedCount:  m.skipped,
		TermCount:     len(m.docFreq),
		AvgDocLength:  m.avgDL,
	}
}

func (m *MemoryBM25Index) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.docs = nil
	m.termFreq = nil
	m.docFreq = nil
	return nil
}
