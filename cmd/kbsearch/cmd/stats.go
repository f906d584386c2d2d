package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/internal/output"
	"github.com/Aman-CERP/kbsearch/internal/search"
)

type statsReport struct {
	search.EngineStats
	Embedder string `json:"embedder"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			st := a.engine.Stats()
			out := output.New(cmd.OutOrStdout())
			if format == "json" {
				return out.JSON(statsReport{EngineStats: st, Embedder: a.embedder})
			}
			out.Stats(st, a.embedder)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	return cmd
}
