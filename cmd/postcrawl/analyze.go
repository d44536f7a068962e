package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nao1215/postcrawl/internal/analysis"
	"github.com/nao1215/postcrawl/internal/config"
	"github.com/nao1215/postcrawl/internal/database"
	"github.com/nao1215/postcrawl/internal/model"
	"github.com/nao1215/postcrawl/internal/pipeline"
	"github.com/nao1215/postcrawl/internal/report"
	"github.com/spf13/cobra"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [board-url]",
		Short: "Print statistics of a stored run or a CSV export",
		Long: `Analyze recomputes the ranking and statistics of previously crawled posts
without fetching anything.

The posts come from exactly one source:
- a board URL: the latest stored run of that board
- --run ID: a specific stored run (see 'postcrawl history')
- --csv FILE: a CSV export written by 'postcrawl crawl -f csv --all'

Examples:
  # Analyze the latest run of a board
  postcrawl analyze https://internet-janitor.itch.io/wigglypaint

  # Analyze run 3 as Markdown
  postcrawl analyze --run 3 -f markdown

  # Analyze a CSV export and keep the 20 best posts
  postcrawl analyze --csv posts.csv -n 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: runAnalyzeCmd,
	}

	cmd.Flags().Int64("run", 0,
		"Analyze the stored run with this ID")
	cmd.Flags().String("csv", "",
		"Analyze posts read from a CSV export")
	cmd.Flags().IntP("top", "n", config.DefaultTop,
		"Number of ranked posts to show (0 for all)")
	cmd.Flags().Bool("all", false,
		"Show every unique post instead of the ranked top posts")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Report format: table, csv, json or markdown")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the crawl store")

	return cmd
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	runID, err := cmd.Flags().GetInt64("run")
	if err != nil {
		return err
	}
	csvPath, err := cmd.Flags().GetString("csv")
	if err != nil {
		return err
	}
	top, err := cmd.Flags().GetInt("top")
	if err != nil {
		return err
	}
	if top < 0 {
		return fmt.Errorf("configuration error: %w", config.ErrInvalidTop)
	}
	all, err := cmd.Flags().GetBool("all")
	if err != nil {
		return err
	}
	formatName, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	sources := 0
	for _, set := range []bool{runID != 0, csvPath != "", len(args) == 1} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		return errors.New("specify exactly one of a board URL, --run or --csv")
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var crawlReport *model.CrawlReport
	if csvPath != "" {
		crawlReport, err = loadCSVReport(ctx, csvPath, top, logger)
	} else {
		crawlReport, err = loadStoredReport(ctx, dbDir, runID, args, top)
	}
	if err != nil {
		return err
	}

	logger.Debug("analyzing posts",
		"source", crawlReport.Board,
		"unique", len(crawlReport.Unique),
		"ranked", len(crawlReport.Ranked),
	)

	return writeReport(cmd.OutOrStdout(), format, crawlReport, all)
}

// loadCSVReport builds a report from a CSV export by running the analysis
// steps of the crawl pipeline over its rows.
func loadCSVReport(ctx context.Context, path string, top int, logger *slog.Logger) (*model.CrawlReport, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()

	posts, err := report.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	crawlReport := model.NewCrawlReport(path)
	crawlReport.Result = &model.CrawlResult{
		Seed:       path,
		Posts:      posts,
		StopReason: model.StopEndOfChain,
	}

	p := pipeline.New(pipeline.WithLogger(logger))
	p.AddSteps(
		pipeline.NewDedupeStep(),
		pipeline.NewRankStep(top),
		pipeline.NewSummaryStep(),
	)
	if err := p.Execute(ctx, crawlReport); err != nil {
		return nil, err
	}
	return crawlReport, nil
}

// loadStoredReport loads a run from the crawl store, either by ID or as the
// latest run of the board in args.
func loadStoredReport(ctx context.Context, dbDir string, runID int64, args []string, top int) (*model.CrawlReport, error) {
	db, err := database.Open(dbDir, database.Options{EnableWAL: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	var crawlReport *model.CrawlReport
	if runID != 0 {
		crawlReport, err = db.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
		}
		if crawlReport == nil {
			return nil, fmt.Errorf("run %d not found (use 'postcrawl history' to list runs)", runID)
		}
	} else {
		crawlReport, err = db.LatestRun(ctx, args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to load latest run: %w", err)
		}
		if crawlReport == nil {
			return nil, fmt.Errorf("no stored runs for %s (run 'postcrawl crawl %s' first)", args[0], args[0])
		}
	}

	// Raw posts are not stored, so the stored statistics stay as they were;
	// only the ranking follows --top.
	crawlReport.Ranked = analysis.Top(crawlReport.Unique, top)
	return crawlReport, nil
}

// writeReport renders one report in the given format.
func writeReport(w io.Writer, format report.Format, crawlReport *model.CrawlReport, all bool) error {
	writer, err := report.New(format, w, report.WithAllPosts(all))
	if err != nil {
		return err
	}
	if _, err := writer.Write(crawlReport); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
