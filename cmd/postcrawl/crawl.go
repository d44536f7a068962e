package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/nao1215/postcrawl/internal/config"
	"github.com/nao1215/postcrawl/internal/database"
	"github.com/nao1215/postcrawl/internal/model"
	"github.com/nao1215/postcrawl/internal/pipeline"
	"github.com/nao1215/postcrawl/internal/report"
	"github.com/spf13/cobra"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [board-url...]",
		Short: "Crawl boards and report their top posts",
		Long: `Crawl follows the "Next page" chain of each board, starting at the
given URL, until the chain ends, a page has no posts or the page ceiling
is reached. Posts are deduplicated by ID, posts with images are ranked by
upvotes, and a report is written.

A failed page ends the crawl of its board; everything collected up to that
page is still reported and saved.

With several boards the reports form one document: a single CSV header, or
a JSON array of report objects. A single board is written as one object.
Progress lines for every page and board go to stderr.

Examples:
  # Crawl one board
  postcrawl crawl https://internet-janitor.itch.io/wigglypaint

  # Export every unique post as CSV
  postcrawl crawl --all -f csv -o posts.csv https://internet-janitor.itch.io/wigglypaint

  # Crawl several boards, two at a time, without the crawl store
  postcrawl crawl -b 2 --no-db https://a.itch.io/game https://b.itch.io/game

Flags given explicitly (--max-pages, --delay, --user-agent) win over the
configuration file; otherwise its values replace the flag defaults.

Configuration file (.postcrawl) example:
  defaults:
    delay: 2s
  boards:
    https://internet-janitor.itch.io/wigglypaint:
      cookie: "itchio_token=abc123"
      maxPages: 50`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	// Crawl behavior flags
	cmd.Flags().IntP("max-pages", "p", config.DefaultMaxPages,
		"Maximum number of pages to crawl per board")
	cmd.Flags().DurationP("delay", "d", config.DefaultDelay,
		"Pause between two page fetches")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Timeout for each request")
	cmd.Flags().IntP("retries", "r", config.DefaultRetries,
		"Fetch attempts per page (1 disables retry)")
	cmd.Flags().Duration("rate-limit", 0,
		"Minimum interval between requests (0 disables the limiter)")
	cmd.Flags().Bool("keep-going", false,
		"Continue past pages without posts")
	cmd.Flags().IntP("batch", "b", config.DefaultBatchSize,
		"Number of boards crawled concurrently")
	cmd.Flags().String("user-agent", "",
		"User-Agent header (default: a desktop browser)")
	cmd.Flags().Int64("max-body-size", 0,
		"Largest accepted page body in bytes (0 keeps the default)")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .postcrawl in current or home directory)")

	// Report flags
	cmd.Flags().IntP("top", "n", config.DefaultTop,
		"Number of ranked posts to export (0 for all)")
	cmd.Flags().Bool("all", false,
		"Export every unique post instead of the ranked top posts")
	cmd.Flags().StringP("format", "f", config.DefaultFormat,
		"Report format: table, csv, json or markdown")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("tee", false,
		"With --output, also print the report as a table on stdout")

	// Store flags
	cmd.Flags().Bool("no-db", false,
		"Do not save the crawl to the crawl store")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the crawl store")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return runCrawl(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from cobra command flags and the
// configuration file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()

	var err error

	cfg.MaxPages, err = cmd.Flags().GetInt("max-pages")
	if err != nil {
		return nil, err
	}
	cfg.MaxPagesExplicit = cmd.Flags().Changed("max-pages")
	cfg.Delay, err = cmd.Flags().GetDuration("delay")
	if err != nil {
		return nil, err
	}
	cfg.DelayExplicit = cmd.Flags().Changed("delay")
	cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
	if err != nil {
		return nil, err
	}
	cfg.Retries, err = cmd.Flags().GetInt("retries")
	if err != nil {
		return nil, err
	}
	cfg.RateLimit, err = cmd.Flags().GetDuration("rate-limit")
	if err != nil {
		return nil, err
	}
	keepGoing, err := cmd.Flags().GetBool("keep-going")
	if err != nil {
		return nil, err
	}
	cfg.StopOnEmptyPage = !keepGoing
	cfg.BatchSize, err = cmd.Flags().GetInt("batch")
	if err != nil {
		return nil, err
	}
	cfg.UserAgent, err = cmd.Flags().GetString("user-agent")
	if err != nil {
		return nil, err
	}
	cfg.MaxBodySize, err = cmd.Flags().GetInt64("max-body-size")
	if err != nil {
		return nil, err
	}
	cfg.Top, err = cmd.Flags().GetInt("top")
	if err != nil {
		return nil, err
	}
	cfg.AllPosts, err = cmd.Flags().GetBool("all")
	if err != nil {
		return nil, err
	}
	cfg.Format, err = cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}
	if _, err := report.ParseFormat(cfg.Format); err != nil {
		return nil, err
	}
	cfg.ReportFile, err = cmd.Flags().GetString("output")
	if err != nil {
		return nil, err
	}
	cfg.Tee, err = cmd.Flags().GetBool("tee")
	if err != nil {
		return nil, err
	}

	noDB, err := cmd.Flags().GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	cfg.DBDir, err = cmd.Flags().GetString("db-dir")
	if err != nil {
		return nil, err
	}

	cfg.ConfigFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// A missing file is only an error when the user named one.
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		cfg.BoardConfigs, err = config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("configuration file not found: %s", cfg.ConfigFilePath)
	default:
		cfg.BoardConfigs = &config.File{
			Boards: make(map[string]config.BoardConfig),
		}
	}

	cfg.Verbose = getVerboseFlag(cmd)
	cfg.Boards = args

	return cfg, nil
}

// runCrawl crawls every configured board and writes their reports as one
// document once all crawls are over. Progress goes to progress so that a
// report written to stdout stays machine readable.
func runCrawl(ctx context.Context, cfg *config.Config, stdout, progress io.Writer, logger *slog.Logger) error {
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	logger.Info("starting crawl",
		"boards", cfg.Boards,
		"batch_size", cfg.BatchSize,
		"save_to_db", cfg.SaveToDB,
	)

	var store pipeline.RunSaver
	if cfg.SaveToDB {
		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Info("database opened", "path", db.Path())
		store = db
	}

	out, closeOutput, err := openOutput(cfg.ReportFile, stdout)
	if err != nil {
		return err
	}
	defer closeOutput()

	writer, err := report.New(format, out, report.WithAllPosts(cfg.AllPosts))
	if err != nil {
		return err
	}
	if cfg.Tee && cfg.ReportFile != "" {
		writer = report.NewMultiWriter(writer, report.NewTableWriter(stdout, report.WithAllPosts(cfg.AllPosts)))
	}

	pages := &pageProgress{w: progress}
	bp := pipeline.NewBatchProcessor(
		func(board string) *pipeline.Pipeline {
			return createPipelineForBoard(cfg, board, store, pages.hook(board), logger)
		},
		pipeline.WithConcurrency(cfg.BatchSize),
		pipeline.WithBatchLogger(logger),
	)

	startTime := time.Now()
	reports, batchErr := bp.ProcessBatch(ctx, cfg.Boards)

	total := len(cfg.Boards)
	failed := 0
	finished := make([]*model.CrawlReport, 0, total)
	for i, r := range reports {
		if r == nil {
			fmt.Fprintf(progress, "[%d/%d] %s: not started\n", i+1, total, cfg.Boards[i])
			failed++
			continue
		}
		fmt.Fprintf(progress, "[%d/%d] %s: %s, %d pages, %d unique posts\n",
			i+1, total, r.Board, r.Status(), r.PagesCrawled(), len(r.Unique))
		if r.Result == nil {
			failed++
			continue
		}
		finished = append(finished, r)
	}
	fmt.Fprintf(progress, "Crawled %d boards in %s\n", total, time.Since(startTime).Round(time.Millisecond))

	if len(finished) > 0 {
		if _, err := report.WriteAll(writer, finished); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		if cfg.ReportFile != "" {
			fmt.Fprintf(progress, "Report written to: %s\n", cfg.ReportFile)
		}
	}

	if batchErr != nil {
		return fmt.Errorf("crawl interrupted: %w", batchErr)
	}
	if failed > 0 {
		return fmt.Errorf("crawl failed for %d of %d boards", failed, total)
	}
	return nil
}

// pageProgress prints a line for every crawled page. Boards crawl
// concurrently, so lines are written under a lock.
type pageProgress struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *pageProgress) hook(board string) func(model.PageVisit) {
	return func(v model.PageVisit) {
		p.mu.Lock()
		defer p.mu.Unlock()
		fmt.Fprintf(p.w, "  %s: page %d, %d posts\n", board, v.Number, v.PostCount)
	}
}

// createPipelineForBoard builds the pipeline for one board, merging the
// flags with its entry of the configuration file. onPage may be nil.
func createPipelineForBoard(cfg *config.Config, board string, store pipeline.RunSaver, onPage func(model.PageVisit), logger *slog.Logger) *pipeline.Pipeline {
	bc := cfg.BoardConfig(board)
	maxPages, delay := cfg.PageSettings(board)

	opts := []pipeline.DefaultPipelineOption{
		pipeline.WithPipelineMaxPages(maxPages),
		pipeline.WithPipelineDelay(delay),
		pipeline.WithPipelineStopOnEmptyPage(cfg.StopOnEmptyPage),
		pipeline.WithPipelineTimeout(cfg.Timeout),
		pipeline.WithPipelineRetries(cfg.Retries),
		pipeline.WithPipelineRateLimit(cfg.RateLimit),
		pipeline.WithPipelineCookie(bc.Cookie),
		pipeline.WithPipelineHeaders(bc.Headers),
		pipeline.WithPipelineMarkers(bc.ImageHost, bc.NextLabel, bc.CursorParam),
		pipeline.WithPipelineTop(cfg.Top),
		pipeline.WithPipelineLogger(logger.With("board", board)),
	}
	if ua := cfg.UserAgentFor(board); ua != "" {
		opts = append(opts, pipeline.WithPipelineUserAgent(ua))
	}
	if cfg.MaxBodySize > 0 {
		opts = append(opts, pipeline.WithPipelineMaxBodySize(cfg.MaxBodySize))
	}
	if onPage != nil {
		opts = append(opts, pipeline.WithPipelineOnPage(onPage))
	}
	if store != nil {
		opts = append(opts, pipeline.WithPipelineStore(store))
	}

	return pipeline.DefaultPipeline(nil, opts...)
}

// openOutput returns the report destination: the named file, or stdout when
// path is empty.
func openOutput(path string, stdout io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return stdout, func() {}, nil
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}
