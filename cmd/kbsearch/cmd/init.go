package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/kbsearch/configs"
	"github.com/Aman-CERP/kbsearch/internal/config"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
	"github.com/Aman-CERP/kbsearch/internal/output"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var (
		format  string
		force   bool
		user    bool
		restore bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration template",
		Long: `Write an annotated configuration template.

By default the template goes to ./kbsearch.yaml (or ./kbsearch.toml with
--format toml). --user writes the user-level config instead. An existing
file is kept unless --force is given, in which case it is backed up first.
--restore puts the newest backup back in place.`,
		Example: `  kbsearch init
  kbsearch init --format toml
  kbsearch init --user --force
  kbsearch init --restore`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			tmpl, ok := configs.Template(format)
			if !ok {
				return kberrors.New(kberrors.ErrCodeInvalidInput, fmt.Sprintf("invalid format %q", format), nil).
					WithSuggestion("use yaml or toml")
			}

			path := root.configPath
			switch {
			case user:
				path = config.GetUserConfigPath()
			case path == "" && format == "toml":
				path = "kbsearch.toml"
			case path == "":
				path = "kbsearch.yaml"
			}

			if restore {
				return restoreConfig(out, path)
			}

			if _, err := os.Stat(path); err == nil {
				if !force {
					out.Warningf("%s already exists", path)
					out.Status("", "Use --force to overwrite it (a backup is kept)")
					return nil
				}
				backup, err := config.BackupFile(path)
				if err != nil {
					return err
				}
				out.Statusf("", "Backed up %s to %s", path, backup)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			out.Successf("Wrote %s", path)
			out.Status("", "Next: set corpus.path, then run 'kbsearch index'")
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "Template format: yaml, toml")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config (after backing it up)")
	cmd.Flags().BoolVar(&user, "user", false, "Write the user config ("+config.GetUserConfigPath()+")")
	cmd.Flags().BoolVar(&restore, "restore", false, "Restore the newest backup instead of writing the template")
	cmd.MarkFlagsMutuallyExclusive("restore", "force")
	return cmd
}

// restoreConfig copies the newest backup of path over it.
func restoreConfig(out *output.Writer, path string) error {
	backups, err := config.ListBackups(path)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return kberrors.New(kberrors.ErrCodeFileNotFound, "no backups of "+path, nil).
			WithSuggestion("backups are made by 'kbsearch init --force'")
	}
	newest := backups[0]
	if err := config.RestoreBackup(path, newest); err != nil {
		return err
	}
	out.Successf("Restored %s from %s", path, newest)
	return nil
}
