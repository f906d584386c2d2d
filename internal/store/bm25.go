package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
	index "github.com/blevesearch/bleve_index_api"
)

const (
	// WhitespaceTokenizerName splits on unicode whitespace only, keeping
	// punctuation inside terms the same way Tokenize does.
	WhitespaceTokenizerName = "kb_whitespace"

	// KBAnalyzerName is the analyzer applied to the content field.
	KBAnalyzerName = "kb_analyzer"

	contentField = "content"

	// savedCorpusKey holds the encoded savedCorpus in Bleve's internal store.
	savedCorpusKey = "kb_saved_corpus"
)

func init() {
	_ = registry.RegisterTokenizer(WhitespaceTokenizerName, whitespaceTokenizerConstructor)
}

// BleveBM25Index is a LexicalIndex backed by Bleve with its BM25 scoring
// model. Bleve fixes k1=1.2 and b=0.75 and applies a coordination factor to
// multi-term queries, so absolute scores differ from MemoryBM25Index.
type BleveBM25Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool

	docs    map[int]Document
	built   bool
	count   int
	skipped int
	avgDL   float64
}

var _ PersistentIndex = (*BleveBM25Index)(nil)

type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveBM25Index creates an index stored at path, or in memory when path
// is empty. The index is empty until Build is called.
func NewBleveBM25Index(path string) (*BleveBM25Index, error) {
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	return &BleveBM25Index{path: path}, nil
}

func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()
	err := indexMapping.AddCustomAnalyzer(KBAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     WhitespaceTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = KBAnalyzerName
	indexMapping.ScoringModel = index.BM25Scoring
	return indexMapping, nil
}

func (b *BleveBM25Index) openFresh() (bleve.Index, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, err
	}
	if b.path == "" {
		return bleve.NewMemOnly(indexMapping)
	}
	if err := os.RemoveAll(b.path); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", b.path, err)
	}
	return bleve.New(b.path, indexMapping)
}

// bleveID encodes a corpus position so that sorting by _id keeps corpus order.
func bleveID(pos int) string {
	return fmt.Sprintf("%09d", pos)
}

// Build replaces the index with a fresh one over docs.
func (b *BleveBM25Index) Build(ctx context.Context, docs []Document) error {
	prepared, skipped := prepareCorpus(docs, string(BackendBleve))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("index is closed")
	}

	if b.index != nil {
		_ = b.index.Close()
		b.index = nil
	}
	b.docs = make(map[int]Document, len(prepared))
	b.built, b.count, b.skipped, b.avgDL = false, 0, skipped, 0
	if len(prepared) == 0 {
		if b.path != "" {
			// a stale saved index must not outlive an empty rebuild
			return os.RemoveAll(b.path)
		}
		return nil
	}

	idx, err := b.openFresh()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	total := 0
	batch := idx.NewBatch()
	for _, d := range prepared {
		if err := ctx.Err(); err != nil {
			_ = idx.Close()
			return err
		}
		if err := batch.Index(bleveID(d.pos), bleveDocument{Content: d.doc.Content}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("failed to index document %s: %w", d.doc.ID, err)
		}
		b.docs[d.pos] = d.doc
		total += len(d.tokens)
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	avgDL := float64(total) / float64(len(prepared))
	if b.path != "" {
		data, err := encodeSavedCorpus(b.docs, skipped, avgDL, time.Now())
		if err == nil {
			err = idx.SetInternal([]byte(savedCorpusKey), data)
		}
		if err != nil {
			_ = idx.Close()
			return fmt.Errorf("failed to save documents: %w", err)
		}
	}

	b.index = idx
	b.built = true
	b.count = len(prepared)
	b.avgDL = avgDL
	return nil
}

// Load opens the index saved at the path read-only. A later Build replaces
// it with a writable one.
func (b *BleveBM25Index) Load(ctx context.Context) (time.Time, error) {
	if b.path == "" {
		return time.Time{}, ErrNoSavedIndex
	}
	if _, err := os.Stat(b.path); err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, ErrNoSavedIndex
		}
		return time.Time{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return time.Time{}, fmt.Errorf("index is closed")
	}

	idx, err := bleve.OpenUsing(b.path, map[string]interface{}{"read_only": true})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open %s: %w", b.path, err)
	}
	data, err := idx.GetInternal([]byte(savedCorpusKey))
	if err != nil || len(data) == 0 {
		_ = idx.Close()
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to read saved documents: %w", err)
		}
		return time.Time{}, ErrNoSavedIndex
	}
	saved, docs, err := decodeSavedCorpus(data)
	if err != nil {
		_ = idx.Close()
		return time.Time{}, err
	}

	if b.index != nil {
		_ = b.index.Close()
	}
	b.index = idx
	b.docs = docs
	b.built = len(docs) > 0
	b.count = len(docs)
	b.skipped = saved.Skipped
	b.avgDL = saved.AvgDocLength
	return saved.BuiltAt, nil
}

// Search runs a disjunctive match query over the content field.
func (b *BleveBM25Index) Search(ctx context.Context, queryStr string, limit int) ([]BM25Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	terms := Tokenize(queryStr)
	if !b.built || len(terms) == 0 || limit <= 0 {
		return []BM25Result{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField(contentField)

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = min(limit, b.count)
	req.SortBy([]string{"-_score", "_id"})
	req.IncludeLocations = true

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]BM25Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.Score <= 0 || math.IsNaN(hit.Score) {
			continue
		}
		pos, err := strconv.Atoi(hit.ID)
		if err != nil {
			continue
		}
		results = append(results, BM25Result{
			DocIndex:     pos,
			Document:     b.docs[pos],
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit, terms),
		})
	}
	return results, nil
}

func (b *BleveBM25Index) Stats() IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return IndexStats{
		Backend:       string(BackendBleve),
		Built:         b.built,
		DocumentCount: b.count,
		SkippedCount:  b.skipped,
		AvgDocLength:  b.avgDL,
	}
}

func (b *BleveBM25Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

// extractMatchedTerms lists the query terms found in hit, in query order.
func extractMatchedTerms(hit *search.DocumentMatch, queryTerms []string) []string {
	locations := hit.Locations[contentField]
	if len(locations) == 0 {
		return nil
	}
	found := make(map[string]int, len(locations))
	for term := range locations {
		found[term] = 1
	}
	return matchedTerms(queryTerms, found)
}

func whitespaceTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return whitespaceTokenizer{}, nil
}

type whitespaceTokenizer struct{}

// Tokenize emits maximal runs of non-space runes with their byte offsets.
func (whitespaceTokenizer) Tokenize(input []byte) analysis.TokenStream {
	stream := make(analysis.TokenStream, 0)
	pos := 1
	start := -1
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		if unicode.IsSpace(r) {
			if start >= 0 {
				stream = append(stream, newToken(input, start, i, pos))
				pos++
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		stream = append(stream, newToken(input, start, len(input), pos))
	}
	return stream
}

func newToken(input []byte, start, end, pos int) *analysis.Token {
	return &analysis.Token{
		Term:     append([]byte(nil), input[start:end]...),
		Start:    start,
		End:      end,
		Position: pos,
		Type:     analysis.AlphaNumeric,
	}
}
