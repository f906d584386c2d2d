package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
)

type searchOptions struct {
	limit  int
	mode   string
	format string
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base.

Modes:
  hybrid  enhanced query to both indexes, weighted merge (default)
  vector  raw query, vector similarity only
  bm25    raw query, keyword relevance only`,
		Example: `  kbsearch search "how do I reset my pasword"
  kbsearch search "kiosk mode" -k 3 --mode bm25
  kbsearch search "vpn setup" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("limit") {
				opts.limit = root.cfg.Search.DefaultLimit
			}
			return runSearch(cmd.Context(), cmd, root, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "k", 5, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", string(search.ModeHybrid), "Search mode: hybrid, vector, bm25")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, root *rootOptions, query string, opts searchOptions) error {
	mode, err := search.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	if opts.format != "text" && opts.format != "json" {
		return kberrors.New(kberrors.ErrCodeInvalidInput, fmt.Sprintf("invalid format %q", opts.format), nil).
			WithSuggestion("use text or json")
	}
	if opts.limit < 1 {
		return kberrors.New(kberrors.ErrCodeInvalidLimit, fmt.Sprintf("limit must be at least 1, got %d", opts.limit), nil)
	}

	a, err := openApp(ctx, root.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	results, err := a.engine.Search(ctx, query, opts.limit, mode)
	if err != nil {
		return err
	}
	report := output.NewSearchReport(a.engine.Analyze(query), mode, opts.limit, results, time.Since(start))

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(report)
	}
	out.Results(report)
	return nil
}
