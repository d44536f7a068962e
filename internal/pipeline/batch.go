package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/postcrawl/internal/model"
)

// DefaultConcurrency is the number of boards crawled at once.
const DefaultConcurrency = 4

// BatchProcessor crawls several boards concurrently, one pipeline per board.
//
// Pages of a single board are always fetched sequentially by that board's
// crawl step; concurrency only applies across boards.
type BatchProcessor struct {
	// pipelineFactory creates a fresh pipeline for each board so no step
	// state is shared between crawls. It receives the board so per-board
	// settings can be applied.
	pipelineFactory func(board string) *Pipeline

	// concurrency is the maximum number of boards crawled at once.
	concurrency int

	logger *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets a custom logger for batch processing.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent crawls.
// Non-positive values keep the default.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchProcessor creates a new BatchProcessor.
func NewBatchProcessor(pipelineFactory func(board string) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		pipelineFactory: pipelineFactory,
		concurrency:     DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(bp)
	}

	if bp.logger == nil {
		bp.logger = slog.Default()
	}

	return bp
}

// ProcessBatch crawls the boards concurrently within the concurrency limit.
//
// The returned reports are in the same order as boards. A board whose
// pipeline failed still has a report carrying the error. Boards not
// started because ctx was cancelled have a nil report, and the context
// error is returned.
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, boards []string) ([]*model.CrawlReport, error) {
	results := make([]*model.CrawlReport, len(boards))

	err := bp.ProcessBatchWithCallback(ctx, boards, func(report *model.CrawlReport, index int) {
		// Each index is written by exactly one goroutine.
		results[index] = report
	})

	return results, err
}

// ProcessBatchWithCallback crawls the boards and calls callback for each
// finished report with the board's index in boards. The callback runs on
// the goroutine that finished the crawl and must be safe for concurrent use.
func (bp *BatchProcessor) ProcessBatchWithCallback(
	ctx context.Context,
	boards []string,
	callback func(report *model.CrawlReport, index int),
) error {
	bp.logger.Info("starting batch crawl",
		"total_boards", len(boards),
		"concurrency", bp.concurrency,
	)

	startTime := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bp.concurrency)

	for i, board := range boards {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			bp.logger.Info("crawling board",
				"board", board,
				"index", i+1,
				"total", len(boards),
			)

			report := model.NewCrawlReport(board)
			if err := bp.pipelineFactory(board).Execute(ctx, report); err != nil {
				// Recorded in the report; other boards keep going.
				bp.logger.Warn("board failed",
					"board", board,
					"error", err,
				)
			} else {
				bp.logger.Info("board completed",
					"board", board,
					"status", report.Status(),
				)
			}

			callback(report, i)
			return nil
		})
	}

	err := g.Wait()

	bp.logger.Info("batch crawl complete",
		"total_boards", len(boards),
		"elapsed", time.Since(startTime),
	)

	return err
}
