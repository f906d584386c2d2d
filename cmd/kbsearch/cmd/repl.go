package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
	"github.com/Aman-CERP/kbsearch/internal/watcher"
)

const replHelp = `Type a question to search. Commands:
  :mode hybrid|vector|bm25   change the search mode
  :k <n>                     change the number of results
  :analyze <query>           show the enhanced query and keywords
  :stats                     show engine statistics
  :refresh                   reload the corpus
  :help                      show this help
  :quit                      exit`

type replSession struct {
	app   *app
	out   *output.Writer
	raw   io.Writer
	mode  search.Mode
	limit int
}

func newReplCmd(root *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive search session",
		Long: `Start an interactive search session over the knowledge base.

With --watch, changes to the corpus file are picked up automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRepl(cmd.Context(), cmd, root, watch)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh the indexes when the corpus file changes")
	return cmd
}

func runRepl(ctx context.Context, cmd *cobra.Command, root *rootOptions, watch bool) error {
	a, err := openApp(ctx, root.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := &replSession{
		app:   a,
		out:   output.New(cmd.OutOrStdout()),
		raw:   cmd.OutOrStdout(),
		mode:  search.ModeHybrid,
		limit: root.cfg.Search.DefaultLimit,
	}

	if watch {
		w, err := watcher.NewCorpusWatcher([]string{a.corpus.Path}, watcher.DefaultOptions())
		if err != nil {
			return err
		}
		defer w.Stop()
		go func() {
			err := w.Run(ctx, func(ctx context.Context, _ []watcher.FileEvent) error {
				return a.engine.Refresh(ctx)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("corpus_watch_stopped", slog.String("error", err.Error()))
			}
		}()
		s.out.Statusf("", "Watching %s (%s)", a.corpus.Path, w.Mode())
	}

	st := a.engine.Stats()
	s.out.Successf("%s: %d documents (%s). Type :help for commands.", st.CollectionName, st.TotalDocuments, st.LexicalBackend)
	return s.loop(ctx, cmd.InOrStdin())
}

func (s *replSession) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(s.raw, "kb> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(s.raw)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if done := s.handle(ctx, line); done {
			return nil
		}
	}
}

// handle runs one input line and reports whether the session should end.
func (s *replSession) handle(ctx context.Context, line string) bool {
	if !strings.HasPrefix(line, ":") {
		if line == "exit" || line == "quit" {
			return true
		}
		s.search(ctx, line)
		return false
	}

	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "q", "quit", "exit":
		return true
	case "help", "h", "?":
		_, _ = fmt.Fprintln(s.raw, replHelp)
	case "mode":
		m, err := search.ParseMode(arg)
		if err != nil {
			s.fail(err)
			return false
		}
		s.mode = m
		s.out.Successf("mode = %s", m)
	case "k", "limit":
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			s.out.Errorf("limit must be a positive integer, got %q", arg)
			return false
		}
		s.limit = n
		s.out.Successf("k = %d", n)
	case "analyze":
		a := s.app.engine.Analyze(arg)
		s.out.Statusf("", "enhanced: %s", a.EnhancedQuery)
		s.out.Statusf("", "keywords: %s", strings.Join(a.Keywords, ", "))
	case "stats":
		s.out.Stats(s.app.engine.Stats(), s.app.embedder)
	case "refresh":
		start := time.Now()
		if err := s.app.engine.Refresh(ctx); err != nil {
			s.fail(err)
			return false
		}
		s.out.Successf("Refreshed %d documents in %s", s.app.engine.Stats().TotalDocuments, time.Since(start).Round(time.Millisecond))
	default:
		s.out.Errorf("unknown command :%s (try :help)", name)
	}
	return false
}

func (s *replSession) search(ctx context.Context, query string) {
	start := time.Now()
	results, err := s.app.engine.Search(ctx, query, s.limit, s.mode)
	if err != nil {
		s.fail(err)
		return
	}
	s.out.Results(output.NewSearchReport(s.app.engine.Analyze(query), s.mode, s.limit, results, time.Since(start)))
}

func (s *replSession) fail(err error) {
	_, _ = fmt.Fprint(s.raw, kberrors.FormatForCLI(err))
}
