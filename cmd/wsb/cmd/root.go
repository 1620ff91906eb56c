// Package cmd provides the CLI commands for wsb.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	wsberrors "github.com/danny0838/PyWebScrapBook-sub001/internal/errors"
	"github.com/danny0838/PyWebScrapBook-sub001/internal/logging"
	"github.com/danny0838/PyWebScrapBook-sub001/pkg/version"
)

var (
	debugMode      bool
	rootDir        string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the wsb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wsb",
		Short: "WebScrapBook collection tools",
		Long: `wsb maintains the tree files of a WebScrapBook collection.

The collection root is the nearest directory above --root containing a
.wsb directory.`,
		Version:       version.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetVersionTemplate("wsb version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "Directory inside the collection")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.wsb/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newCacheCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the debug file logger when requested. Otherwise
// only errors reach stderr; commands raise the level from configuration.
func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		slog.SetDefault(logging.NewConsole(os.Stderr, "error"))
		return nil
	}

	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Info("debug logging enabled",
		slog.String("log_file", logging.DefaultLogPath()),
		slog.String("version", version.Short()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		slog.Info("debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints a failure the way users expect
// to read it.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		fmt.Fprint(os.Stderr, wsberrors.FormatForCLI(err))
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}
	return err
}
