// Package cmd provides the CLI commands for kbsearch.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/logging"
	"github.com/Aman-CERP/kbsearch/internal/profiling"
	"github.com/Aman-CERP/kbsearch/pkg/version"
)

// skipConfigAnnotation marks commands that run without loading configuration.
const skipConfigAnnotation = "kbsearch/skip-config"

// rootOptions is shared by all subcommands.
type rootOptions struct {
	configPath string
	debug      bool
	profile    profiling.Options

	cfg            *config.Config
	loggingCleanup func()
	profiler       *profiling.Session
}

// NewRootCmd creates the root command for the kbsearch CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "kbsearch",
		Short: "Hybrid search over a customer-support knowledge base",
		Long: `kbsearch answers support questions from a knowledge base of articles.

Each query is corrected and expanded with support vocabulary, then sent to a
BM25 keyword index and a vector index in parallel. Results are merged by
article and ranked by a weighted score (0.7 vector + 0.3 BM25 by default).

Run 'kbsearch init' to write a config file, 'kbsearch index' to embed the
corpus, then 'kbsearch search "<question>"'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("kbsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: ./kbsearch.yaml)")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.kbsearch/logs/")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write heap profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		return opts.setup(c)
	}
	cmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		return opts.teardown()
	}

	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newReplCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration, installs the logger and starts profiling.
func (o *rootOptions) setup(c *cobra.Command) error {
	if o.profile.Enabled() {
		p, err := profiling.Start(o.profile)
		if err != nil {
			return err
		}
		o.profiler = p
	}

	if c.Annotations[skipConfigAnnotation] != "" {
		return nil
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.debug {
		cfg.Logging.Level = "debug"
		if cfg.Logging.FilePath == "" {
			cfg.Logging.FilePath = logging.DefaultLogPath()
		}
	}
	cleanup, err := logging.SetupDefault(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	o.cfg = cfg
	o.loggingCleanup = cleanup

	slog.Debug("config_loaded",
		slog.String("corpus", cfg.Corpus.Path),
		slog.String("lexical_backend", cfg.Lexical.Backend),
		slog.String("embedder", cfg.Embeddings.Provider),
		slog.String("version", version.Version))
	return nil
}

func (o *rootOptions) teardown() error {
	var err error
	if o.profiler != nil {
		err = o.profiler.Stop()
		o.profiler = nil
	}
	if o.loggingCleanup != nil {
		o.loggingCleanup()
		o.loggingCleanup = nil
	}
	return err
}

// Execute runs the root command with SIGINT/SIGTERM cancelling the context
// and prints errors in CLI form.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("command_failed", logAttrs(err)...)
		fmt.Fprint(os.Stderr, kberrors.FormatForCLI(err))
	}
	return err
}

func logAttrs(err error) []any {
	attrs := kberrors.LogAttrs(err)
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}
