package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/corpus"
	"github.com/Aman-CERP/kbsearch/internal/embed"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/store"
	"github.com/Aman-CERP/kbsearch/internal/vector"
)

// indexResult is the JSON shape of `kbsearch index --format json`.
type indexResult struct {
	Corpus          string  `json:"corpus"`
	Documents       int     `json:"documents"`
	LexicalBackend  string  `json:"lexical_backend"`
	LexicalIndexed  int     `json:"lexical_indexed"`
	LexicalSkipped  int     `json:"lexical_skipped"`
	LexicalPath     string  `json:"lexical_path,omitempty"`
	VectorIndexed   int     `json:"vector_indexed"`
	VectorModel     string  `json:"vector_model,omitempty"`
	VectorPath      string  `json:"vector_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func newIndexCmd(root *rootOptions) *cobra.Command {
	var (
		wait   time.Duration
		format string
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build and save the search indexes",
		Long: `Build the lexical and vector indexes from the corpus and save them
under corpus.data_dir. Later searches reopen a saved bleve or sqlite index
instead of rebuilding it while the corpus file is not newer than the build,
and reuse the saved vector index instead of embedding the corpus again.

Only one build runs per data directory at a time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, root, wait, format)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for another build to finish (0 fails immediately)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, root *rootOptions, wait time.Duration, format string) error {
	cfg := root.cfg
	out := output.New(cmd.OutOrStdout())
	start := time.Now()

	lock := store.NewBuildLock(cfg.Corpus.DataDir)
	if err := acquireBuildLock(ctx, lock, wait); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	file := corpus.NewFile(cfg.Corpus.Path, corpus.Format(cfg.Corpus.Format))
	docs, err := file.Documents(ctx)
	if err != nil {
		return err
	}
	res := indexResult{Corpus: file.Path, Documents: len(docs)}

	lexical, err := store.NewLexicalIndex(cfg.Lexical.Backend, cfg.Corpus.DataDir, cfg.BM25Config())
	if err != nil {
		return err
	}
	if err := lexical.Build(ctx, docs); err != nil {
		_ = lexical.Close()
		return err
	}
	stats := lexical.Stats()
	res.LexicalBackend = stats.Backend
	res.LexicalIndexed = stats.DocumentCount
	res.LexicalSkipped = stats.SkippedCount
	if b, err := store.ParseBackend(cfg.Lexical.Backend); err == nil {
		res.LexicalPath = store.LexicalIndexPath(cfg.Corpus.DataDir, b)
	}
	if err := lexical.Close(); err != nil {
		return fmt.Errorf("close lexical index: %w", err)
	}

	if cfg.Vector.Enabled {
		e, err := embed.New(cfg.EmbedConfig())
		if err != nil {
			return err
		}
		local := vector.NewLocalIndex(e)
		defer local.Close()

		if format != "json" {
			out.Statusf("…", "Embedding %d documents with %s", len(docs), local.ModelName())
		}
		if err := local.Build(ctx, docs); err != nil {
			return err
		}
		if err := local.Save(vectorDir(cfg)); err != nil {
			return err
		}
		res.VectorIndexed = local.Count()
		res.VectorModel = local.ModelName()
		res.VectorPath = vectorDir(cfg)
	}
	res.DurationSeconds = time.Since(start).Seconds()

	slog.Info("index_complete",
		slog.Int("documents", res.Documents),
		slog.Int("lexical_indexed", res.LexicalIndexed),
		slog.Int("vector_indexed", res.VectorIndexed),
		slog.Duration("elapsed", time.Since(start)))

	if format == "json" {
		return out.JSON(res)
	}
	out.Successf("Indexed %d documents from %s in %.1fs", res.Documents, res.Corpus, res.DurationSeconds)
	out.Statusf("", "lexical (%s): %d indexed, %d skipped", res.LexicalBackend, res.LexicalIndexed, res.LexicalSkipped)
	if cfg.Vector.Enabled {
		out.Statusf("", "vector (%s): %d indexed, saved to %s", res.VectorModel, res.VectorIndexed, res.VectorPath)
	} else {
		out.Warning("Vector index disabled (vector.enabled: false)")
	}
	return nil
}

// acquireBuildLock waits up to wait for the lock; a zero wait tries once.
func acquireBuildLock(ctx context.Context, lock *store.BuildLock, wait time.Duration) error {
	if wait > 0 {
		lockCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		return lock.Acquire(lockCtx, 100*time.Millisecond)
	}
	ok, err := lock.TryAcquire()
	if err != nil {
		return err
	}
	if !ok {
		return kberrors.New(kberrors.ErrCodeIndexLocked, "another process is building the index", nil).
			WithDetail("lock", lock.Path()).
			WithSuggestion("wait for it to finish or pass --wait")
	}
	return nil
}
