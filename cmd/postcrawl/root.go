package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/nao1215/postcrawl/internal/log"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for postcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postcrawl",
		Short: "Crawl paginated discussion boards and rank their posts",
		Long: `postcrawl crawls cursor-paginated discussion boards such as itch.io
community pages. It follows the "Next page" links of a board, removes
duplicate posts, ranks posts with images by votes and writes a report.

Every crawl is stored in a local SQLite database so that later runs can
be analyzed and compared.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().String("log-format", log.FormatText, "Log format on stderr: text or json")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewAnalyzeCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// newLogger builds the logger of a command on its stderr from the
// --verbose and --log-format flags.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	format, err := cmd.Flags().GetString("log-format")
	if err != nil {
		format, err = cmd.Root().PersistentFlags().GetString("log-format")
		if err != nil {
			format = log.FormatText
		}
	}
	logger, err := log.New(cmd.ErrOrStderr(), format, getVerboseFlag(cmd))
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return logger, nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
