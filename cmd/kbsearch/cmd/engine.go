package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Aman-CERP/kbsearch/internal/config"
	"github.com/Aman-CERP/kbsearch/internal/corpus"
	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/vector"
)

// vectorDir is where `kbsearch index` saves the vector graph.
func vectorDir(cfg *config.Config) string {
	return filepath.Join(cfg.Corpus.DataDir, "vectors")
}

// app bundles what the query commands need.
type app struct {
	cfg      *config.Config
	corpus   *corpus.File
	engine   *search.Engine
	embedder string
}

func (a *app) Close() error {
	return a.engine.Close()
}

// openApp wires the engine from cfg. A lexical index saved by `kbsearch
// index` is reopened when it is not older than the corpus; otherwise the
// lexical index is built in memory. The vector index is loaded from the data
// directory and, when no usable saved index exists, embedded in memory from
// the corpus. Refresh always rebuilds both in memory.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	file := corpus.NewFile(cfg.Corpus.Path, corpus.Format(cfg.Corpus.Format))

	newLexical := func() (store.LexicalIndex, error) {
		return store.NewLexicalIndex(cfg.Lexical.Backend, "", cfg.BM25Config())
	}
	lexical, err := openLexicalIndex(ctx, cfg, file, newLexical)
	if err != nil {
		return nil, err
	}

	var (
		vec      store.VectorIndex
		embedder = "disabled"
	)
	if cfg.Vector.Enabled {
		local, err := openVectorIndex(ctx, cfg, file)
		if err != nil {
			_ = lexical.Close()
			return nil, err
		}
		vec = local
		embedder = local.ModelName()
	} else if file.Format == corpus.FormatExport && cfg.Corpus.Name == "" {
		// the collection name comes from the export itself
		if _, err := file.Documents(ctx); err != nil {
			_ = lexical.Close()
			return nil, err
		}
	}

	engine, err := search.New(lexical, vec,
		search.WithConfig(cfg.EngineConfig(file.CollectionName())),
		search.WithCorpus(file),
		search.WithEnhancer(search.NewQueryEnhancer(cfg.EnhancerOptions()...)),
		search.WithLexicalFactory(newLexical),
	)
	if err != nil {
		_ = lexical.Close()
		if c, ok := vec.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, err
	}

	if !cfg.Search.LazyInit {
		if err := engine.Initialize(ctx); err != nil {
			_ = engine.Close()
			return nil, err
		}
	}
	return &app{cfg: cfg, corpus: file, engine: engine, embedder: embedder}, nil
}

// openLexicalIndex returns the saved lexical index when one exists, no build
// holds the data directory, and it was built after the corpus file last
// changed. Anything else falls back to a fresh index from newLexical.
func openLexicalIndex(ctx context.Context, cfg *config.Config, file *corpus.File, newLexical func() (store.LexicalIndex, error)) (store.LexicalIndex, error) {
	backend, err := store.ParseBackend(cfg.Lexical.Backend)
	if err != nil {
		return nil, err
	}
	path := store.LexicalIndexPath(cfg.Corpus.DataDir, backend)
	if path == "" {
		return newLexical()
	}
	if _, err := os.Stat(path); err != nil {
		return newLexical()
	}

	lock := store.NewBuildLock(cfg.Corpus.DataDir)
	if ok, err := lock.TryAcquire(); err != nil || !ok {
		slog.Info("lexical_index_busy", slog.String("path", path))
		return newLexical()
	}
	defer func() { _ = lock.Release() }()

	idx, err := store.NewLexicalIndex(string(backend), cfg.Corpus.DataDir, cfg.BM25Config())
	if err != nil {
		return nil, err
	}
	saved, ok := idx.(store.PersistentIndex)
	if !ok {
		_ = idx.Close()
		return newLexical()
	}

	builtAt, err := saved.Load(ctx)
	switch {
	case errors.Is(err, store.ErrNoSavedIndex):
		slog.Info("lexical_index_missing", slog.String("path", path))
	case err != nil:
		slog.Warn("lexical_index_unusable", slog.String("path", path), slog.String("error", err.Error()))
	default:
		info, statErr := os.Stat(file.Path)
		if statErr == nil && !builtAt.Before(info.ModTime()) {
			slog.Info("lexical_index_loaded",
				slog.String("path", path),
				slog.Time("built_at", builtAt))
			return idx, nil
		}
		slog.Info("lexical_index_stale", slog.String("path", path), slog.Time("built_at", builtAt))
	}
	_ = idx.Close()
	return newLexical()
}

func openVectorIndex(ctx context.Context, cfg *config.Config, file *corpus.File) (*vector.LocalIndex, error) {
	e, err := embed.New(cfg.EmbedConfig())
	if err != nil {
		return nil, err
	}
	local := vector.NewLocalIndex(e)

	err = local.Load(vectorDir(cfg))
	if err == nil {
		return local, nil
	}
	switch kberrors.GetCode(err) {
	case kberrors.ErrCodeFileNotFound:
		slog.Info("vector_index_missing", slog.String("dir", vectorDir(cfg)))
	case kberrors.ErrCodeDimensionMismatch, kberrors.ErrCodeCorruptIndex:
		slog.Warn("vector_index_unusable", slog.String("error", err.Error()))
	default:
		_ = local.Close()
		return nil, err
	}

	docs, err := file.Documents(ctx)
	if err != nil {
		_ = local.Close()
		return nil, err
	}
	if err := local.Build(ctx, docs); err != nil {
		_ = local.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, kberrors.New(kberrors.ErrCodeVectorUnavailable, "embed corpus", err).
			WithSuggestion("start the embeddings provider, or set vector.enabled: false")
	}
	return local, nil
}
