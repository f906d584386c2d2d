package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/kbsearch/internal/corpus"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrEngineClosed is returned by calls on a closed engine.
var ErrEngineClosed = errors.New("search engine is closed")

// vectorBuilder is implemented by vector indexes the engine can rebuild on
// Refresh.
type vectorBuilder interface {
	Build(ctx context.Context, docs []store.Document) error
}

// lexicalSnapshot is a built, immutable lexical index. Searches hold mu for
// reading; the snapshot is closed under the write lock once swapped out.
type lexicalSnapshot struct {
	mu      sync.RWMutex
	closed  bool
	index   store.LexicalIndex
	stats   store.IndexStats
	total   int
	builtAt time.Time
}

func (s *lexicalSnapshot) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.index.Close()
}

// Engine runs hybrid searches over a lexical index and a vector index.
//
// Lifecycle: New, then Initialize once at startup, then any number of
// concurrent Search calls. Refresh rebuilds the lexical index from the
// corpus and publishes it atomically.
type Engine struct {
	vector     store.VectorIndex
	supplier   corpus.Supplier
	newLexical func() (store.LexicalIndex, error)
	enhancer   *QueryEnhancer
	breaker    *kberrors.CircuitBreaker
	config     EngineConfig

	initial  store.LexicalIndex
	initMu   sync.Mutex
	initDone bool
	initErr  error

	lexical   atomic.Pointer[lexicalSnapshot]
	refreshMu sync.Mutex
	closed    atomic.Bool
}

// Option configures the engine.
type Option func(*Engine)

// WithConfig replaces the default configuration. Zero fields take their
// defaults.
func WithConfig(cfg EngineConfig) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithCorpus sets the supplier Initialize and Refresh read documents from.
func WithCorpus(s corpus.Supplier) Option {
	return func(e *Engine) {
		e.supplier = s
	}
}

// WithEnhancer replaces the default query enhancer.
func WithEnhancer(q *QueryEnhancer) Option {
	return func(e *Engine) {
		if q != nil {
			e.enhancer = q
		}
	}
}

// WithLexicalFactory sets how Refresh creates the replacement index. The
// default is an in-memory Okapi index.
func WithLexicalFactory(fn func() (store.LexicalIndex, error)) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newLexical = fn
		}
	}
}

// New creates an engine. The lexical index is required and is built by
// Initialize unless it is already built; a nil vector index is allowed, in
// which case the vector branch always returns nothing.
func New(lexical store.LexicalIndex, vector store.VectorIndex, opts ...Option) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}

	e := &Engine{
		initial: lexical,
		vector:  vector,
		config:  DefaultConfig(),
		newLexical: func() (store.LexicalIndex, error) {
			return store.NewMemoryBM25Index(store.DefaultBM25Config()), nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	cfg, err := normalizeConfig(e.config)
	if err != nil {
		return nil, err
	}
	e.config = cfg
	if e.enhancer == nil {
		e.enhancer = NewQueryEnhancer()
	}
	e.breaker = kberrors.NewCircuitBreaker("vector",
		kberrors.WithMaxFailures(cfg.BreakerMaxFailures),
		kberrors.WithResetTimeout(cfg.BreakerResetTimeout))

	if vector == nil {
		slog.Warn("vector_index_not_configured",
			slog.String("collection", cfg.CollectionName),
			slog.String("effect", "hybrid and vector searches use lexical results only"))
	}
	return e, nil
}

func normalizeConfig(cfg EngineConfig) (EngineConfig, error) {
	def := DefaultConfig()
	if cfg.Weights.Vector < 0 || cfg.Weights.BM25 < 0 {
		return cfg, kberrors.ConfigError(
			fmt.Sprintf("weights must be non-negative, got vector=%g bm25=%g", cfg.Weights.Vector, cfg.Weights.BM25), nil)
	}
	if cfg.OverfetchFactor < 0 {
		return cfg, kberrors.ConfigError(fmt.Sprintf("overfetch factor must be at least 1, got %d", cfg.OverfetchFactor), nil)
	}
	if cfg.DisplayLength < 0 {
		return cfg, kberrors.ConfigError(fmt.Sprintf("display length must be non-negative, got %d", cfg.DisplayLength), nil)
	}
	if cfg.OverfetchFactor == 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	if cfg.VectorTimeout <= 0 {
		cfg.VectorTimeout = def.VectorTimeout
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = def.BreakerMaxFailures
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = def.BreakerResetTimeout
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = def.CollectionName
	}
	return cfg, nil
}

// Initialize checks the vector index and builds the lexical index.
// Concurrent callers wait for the running build. Once a build finishes,
// later calls return its result; an attempt that ends because its ctx was
// done is not recorded, and the next call builds again.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.initDone {
		return e.initErr
	}
	err := e.initialize(ctx)
	if err != nil && ctx.Err() != nil {
		return err
	}
	e.initDone, e.initErr = true, err
	return err
}

func (e *Engine) initialize(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if p, ok := e.vector.(store.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return vectorUnavailable(err)
		}
	}

	if stats := e.initial.Stats(); stats.Built {
		// reopened from disk; Refresh rebuilds from the corpus
		slog.Info("lexical_index_reused",
			slog.String("backend", stats.Backend),
			slog.Int("documents", stats.DocumentCount))
		e.lexical.Store(&lexicalSnapshot{
			index:   e.initial,
			stats:   stats,
			total:   stats.DocumentCount + stats.SkippedCount,
			builtAt: time.Now(),
		})
		return nil
	}

	docs, err := e.loadCorpus(ctx)
	if err != nil {
		return err
	}
	snap, err := e.buildLexical(ctx, e.initial, docs)
	if err != nil {
		return err
	}
	e.lexical.Store(snap)
	return nil
}

func vectorUnavailable(err error) error {
	if kberrors.GetCode(err) == kberrors.ErrCodeVectorUnavailable {
		return err
	}
	return kberrors.New(kberrors.ErrCodeVectorUnavailable, "vector index unavailable", err).
		WithSuggestion("check the embeddings provider or disable the vector index")
}

func (e *Engine) loadCorpus(ctx context.Context) ([]store.Document, error) {
	if e.supplier == nil {
		return nil, kberrors.ConfigError("no corpus configured", nil).
			WithSuggestion("set corpus.path or KBSEARCH_CORPUS")
	}
	docs, err := e.supplier.Documents(ctx)
	if err != nil {
		if kberrors.GetCode(err) != "" || ctx.Err() != nil {
			return nil, err
		}
		return nil, kberrors.IOError("load corpus", err)
	}
	return docs, nil
}

func (e *Engine) buildLexical(ctx context.Context, idx store.LexicalIndex, docs []store.Document) (*lexicalSnapshot, error) {
	start := time.Now()
	if err := idx.Build(ctx, docs); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.New(kberrors.ErrCodeIndexBuild, "build lexical index", err)
	}
	stats := idx.Stats()
	slog.Info("lexical_index_built",
		slog.String("backend", stats.Backend),
		slog.Int("documents", stats.DocumentCount),
		slog.Int("skipped", stats.SkippedCount),
		slog.Bool("built", stats.Built),
		slog.Duration("elapsed", time.Since(start)))
	return &lexicalSnapshot{index: idx, stats: stats, total: len(docs), builtAt: time.Now()}, nil
}

// Refresh re-reads the corpus, builds a new lexical index beside the live
// one and swaps it in. A vector index that can rebuild itself is rebuilt
// too; its failure is logged and the old vectors stay in service.
func (e *Engine) Refresh(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.lexical.Load() == nil {
		return e.Initialize(ctx)
	}

	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	docs, err := e.loadCorpus(ctx)
	if err != nil {
		return err
	}
	idx, err := e.newLexical()
	if err != nil {
		return kberrors.New(kberrors.ErrCodeIndexBuild, "create lexical index", err)
	}
	snap, err := e.buildLexical(ctx, idx, docs)
	if err != nil {
		_ = idx.Close()
		return err
	}

	if b, ok := e.vector.(vectorBuilder); ok {
		if err := b.Build(ctx, docs); err != nil {
			slog.Warn("vector_refresh_failed", slog.String("error", err.Error()))
		}
	}

	old := e.lexical.Swap(snap)
	if old != nil {
		if err := old.close(); err != nil {
			slog.Warn("lexical_index_close_failed", slog.String("error", err.Error()))
		}
	}
	slog.Info("engine_refreshed", slog.Int("documents", len(docs)))
	return nil
}

// Analyze shows how a hybrid search would rewrite query.
func (e *Engine) Analyze(query string) QueryAnalysis {
	return QueryAnalysis{
		Query:         query,
		EnhancedQuery: e.enhancer.Enhance(query),
		Keywords:      e.enhancer.ExtractKeywords(query),
	}
}

// Search returns up to k results for query.
//
// Hybrid mode enhances the query and asks each branch for
// OverfetchFactor*k candidates before fusion. Vector and bm25 modes send the
// raw query to one branch for k candidates and use its score as the hybrid
// score. A failing branch contributes no results; only caller cancellation
// fails the call.
func (e *Engine) Search(ctx context.Context, query string, k int, mode Mode) ([]SearchResult, error) {
	if k < 1 {
		return nil, kberrors.New(kberrors.ErrCodeInvalidLimit, fmt.Sprintf("limit must be at least 1, got %d", k), nil)
	}
	m, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	start := time.Now()
	logger := slog.With(slog.String("query_id", uuid.NewString()))

	if e.lexical.Load() == nil && e.config.LazyInit {
		if err := e.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	text, n := query, k
	var weights Weights
	switch m {
	case ModeHybrid:
		a := e.Analyze(query)
		text = a.EnhancedQuery
		n = overfetch(k, e.config.OverfetchFactor)
		weights = e.config.Weights
		logger.Debug("query_enhanced",
			slog.String("query", query),
			slog.String("enhanced", a.EnhancedQuery),
			slog.Any("keywords", a.Keywords))
	case ModeVector:
		weights = Weights{Vector: 1}
	case ModeBM25:
		weights = Weights{BM25: 1}
	}

	var (
		vec []store.Candidate
		lex []store.BM25Result
	)
	g, gctx := errgroup.WithContext(ctx)
	if m != ModeBM25 {
		g.Go(func() error {
			var err error
			vec, err = e.searchVector(gctx, logger, text, n)
			return err
		})
	}
	if m != ModeVector {
		g.Go(func() error {
			var err error
			lex, err = e.searchLexical(gctx, logger, text, n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := NewFusion(weights, e.config.DisplayLength).Fuse(vec, lex, k)
	logger.Info("search_complete",
		slog.String("query", query),
		slog.String("mode", string(m)),
		slog.Int("k", k),
		slog.Int("vector_candidates", len(vec)),
		slog.Int("bm25_candidates", len(lex)),
		slog.Int("results", len(results)),
		slog.Duration("elapsed", time.Since(start)))
	return results, nil
}

// overfetch returns k*factor, saturating at math.MaxInt.
func overfetch(k, factor int) int {
	if factor > 1 && k > math.MaxInt/factor {
		return math.MaxInt
	}
	return k * factor
}

type vectorReply struct {
	candidates []store.Candidate
	err        error
}

// searchVector queries the vector index under the branch timeout and the
// circuit breaker. It only returns an error when ctx itself is done.
func (e *Engine) searchVector(ctx context.Context, logger *slog.Logger, text string, n int) ([]store.Candidate, error) {
	if e.vector == nil {
		return nil, nil
	}
	if !e.breaker.Allow() {
		logger.Debug("vector_branch_skipped", slog.String("breaker", e.breaker.State().String()))
		return nil, nil
	}

	vctx, cancel := context.WithTimeout(ctx, e.config.VectorTimeout)
	defer cancel()

	// the index may not honour ctx; the timeout must still hold
	ch := make(chan vectorReply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- vectorReply{err: fmt.Errorf("vector index panicked: %v", p)}
			}
		}()
		c, err := e.vector.Query(vctx, text, n)
		ch <- vectorReply{candidates: c, err: err}
	}()

	var r vectorReply
	select {
	case r = <-ch:
	case <-vctx.Done():
		r.err = vctx.Err()
	}

	if err := ctx.Err(); err != nil {
		e.breaker.Release()
		return nil, err
	}
	if r.err != nil {
		e.breaker.RecordFailure()
		logger.Warn("vector_branch_failed",
			slog.String("error", r.err.Error()),
			slog.Bool("timeout", errors.Is(r.err, context.DeadlineExceeded)),
			slog.String("breaker", e.breaker.State().String()))
		return nil, nil
	}
	e.breaker.RecordSuccess()
	return r.candidates, nil
}

// searchLexical queries the current lexical snapshot. It only returns an
// error when ctx is done.
func (e *Engine) searchLexical(ctx context.Context, logger *slog.Logger, text string, n int) ([]store.BM25Result, error) {
	for {
		snap := e.lexical.Load()
		if snap == nil {
			logger.Warn("lexical_index_not_built")
			return nil, nil
		}

		snap.mu.RLock()
		if snap.closed {
			// swapped out between Load and RLock
			snap.mu.RUnlock()
			continue
		}
		res, err := lexicalSearch(ctx, snap.index, text, n)
		snap.mu.RUnlock()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("lexical_branch_failed", slog.String("error", err.Error()))
			return nil, nil
		}
		return res, nil
	}
}

// lexicalSearch turns a panicking backend into an error.
func lexicalSearch(ctx context.Context, idx store.LexicalIndex, text string, n int) (res []store.BM25Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = nil, fmt.Errorf("lexical index panicked: %v", p)
		}
	}()
	return idx.Search(ctx, text, n)
}

// Stats reports the engine's state.
func (e *Engine) Stats() EngineStats {
	s := EngineStats{
		CollectionName:   e.config.CollectionName,
		Weights:          e.config.Weights,
		OverfetchFactor:  e.config.OverfetchFactor,
		VectorConfigured: e.vector != nil,
		VectorBreaker:    e.breaker.State().String(),
		LexicalBackend:   e.initial.Stats().Backend,
	}
	if snap := e.lexical.Load(); snap != nil {
		s.TotalDocuments = snap.total
		s.LexicalInitialized = snap.stats.Built
		s.IndexedDocuments = snap.stats.DocumentCount
		s.SkippedDocuments = snap.stats.SkippedCount
		s.LexicalBackend = snap.stats.Backend
		s.LastRefresh = snap.builtAt
	}
	return s
}

// Close releases the lexical index and, when it implements io.Closer, the
// vector index.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if snap := e.lexical.Swap(nil); snap != nil {
		errs = append(errs, snap.close())
	} else {
		errs = append(errs, e.initial.Close())
	}
	if c, ok := e.vector.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
