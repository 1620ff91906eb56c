package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danny0838/PyWebScrapBook-sub001/internal/config"
	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect collection configuration",
		Long: `Inspect the configuration of the collection.

Configuration precedence (lowest to highest):
  1. Hardcoded defaults
  2. User config (~/.config/wsb/config.yaml)
  3. Collection config (<root>/.wsb/config.yaml)
  4. Environment variables (WSB_*)`,
		Example: `  # Show effective configuration
  wsb config show

  # Write the defaults to <root>/.wsb/config.yaml
  wsb config init`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindRoot(rootDir)
			if err != nil {
				return wsberrors.New(wsberrors.ErrCodeCollectionUnreachable, "cannot locate collection", err)
			}
			cfg, err := config.Load(root)
			if err != nil {
				return wsberrors.ConfigError("failed to load configuration", err)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return wsberrors.InternalError("failed to marshal configuration", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file locations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindRoot(rootDir)
			if err != nil {
				return wsberrors.New(wsberrors.ErrCodeCollectionUnreachable, "cannot locate collection", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:       %s\n", config.GetUserConfigPath())
			fmt.Fprintf(out, "collection: %s\n", filepath.Join(root, config.DirName, "config.yaml"))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration into the collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := filepath.Abs(rootDir)
			if err != nil {
				return wsberrors.New(wsberrors.ErrCodeInvalidPath, "invalid root", err)
			}
			dir := filepath.Join(root, config.DirName)
			path := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(path); err == nil && !force {
				return wsberrors.ConfigError(fmt.Sprintf("%s already exists", path), nil).
					WithSuggestion("pass --force to overwrite it")
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return wsberrors.New(wsberrors.ErrCodeConfigPermission, "cannot create "+dir, err)
			}
			if err := config.NewConfig().WriteYAML(path); err != nil {
				return wsberrors.New(wsberrors.ErrCodeConfigPermission, "cannot write configuration", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration")

	return cmd
}
