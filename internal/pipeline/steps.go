package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nao1215/postcrawl/internal/analysis"
	"github.com/nao1215/postcrawl/internal/board"
	"github.com/nao1215/postcrawl/internal/crawler"
	"github.com/nao1215/postcrawl/internal/fetch"
	"github.com/nao1215/postcrawl/internal/model"
)

// Crawler walks a board's pagination chain from a seed reference.
// crawler.Paginator implements it.
type Crawler interface {
	Crawl(ctx context.Context, seed string) (*model.CrawlResult, error)
}

// RunSaver persists a finished report and returns its run ID.
// database.CrawlDB implements it.
type RunSaver interface {
	SaveRun(ctx context.Context, report *model.CrawlReport) (int64, error)
}

// CrawlStep crawls the report's board and stores the raw result.
type CrawlStep struct {
	crawler Crawler

	// closer, if set, is closed once the crawl is over. It releases the
	// HTTP client built for this board.
	closer io.Closer

	logger *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// WithCrawlCloser registers a resource to close after the crawl.
func WithCrawlCloser(c io.Closer) CrawlStepOption {
	return func(s *CrawlStep) {
		s.closer = c
	}
}

// NewCrawlStep creates a crawl step.
func NewCrawlStep(c Crawler, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		crawler: c,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do crawls the board. A crawl that ended early on a fetch or parse failure
// is not a step failure: its partial result is kept and the cause is logged.
func (s *CrawlStep) Do(ctx context.Context, report *model.CrawlReport) error {
	if s.closer != nil {
		defer func() {
			if err := s.closer.Close(); err != nil {
				s.logger.Debug("failed to close crawler resources", "error", err)
			}
		}()
	}

	result, err := s.crawler.Crawl(ctx, report.Board)
	if err != nil {
		return fmt.Errorf("failed to crawl %s: %w", report.Board, err)
	}
	report.Result = result

	switch {
	case result.StopReason == model.StopCancelled:
		report.TimedOut = true
		s.logger.Warn("crawl cancelled, keeping partial results",
			"board", report.Board,
			"pages", result.PageCount(),
			"posts", len(result.Posts),
		)
	case result.Partial():
		s.logger.Warn("crawl ended early, keeping partial results",
			"board", report.Board,
			"reason", result.StopReason,
			"pages", result.PageCount(),
			"posts", len(result.Posts),
			"error", result.ErrorMessage,
		)
	}

	return nil
}

// DedupeStep removes duplicate posts, keeping the first one seen.
type DedupeStep struct{}

// NewDedupeStep creates a dedupe step.
func NewDedupeStep() *DedupeStep {
	return &DedupeStep{}
}

// Name returns the step name.
func (s *DedupeStep) Name() string {
	return "dedupe"
}

// Do fills report.Unique from the raw crawl result.
func (s *DedupeStep) Do(_ context.Context, report *model.CrawlReport) error {
	report.Unique = analysis.Deduplicate(report.AllPosts())
	return nil
}

// RankStep selects the highest ranked posts with images.
type RankStep struct {
	// limit is the number of posts kept, 0 for all.
	limit int
}

// NewRankStep creates a rank step keeping at most limit posts.
func NewRankStep(limit int) *RankStep {
	return &RankStep{limit: limit}
}

// Name returns the step name.
func (s *RankStep) Name() string {
	return "rank"
}

// Do fills report.Ranked from report.Unique.
func (s *RankStep) Do(_ context.Context, report *model.CrawlReport) error {
	report.Ranked = analysis.Top(report.Unique, s.limit)
	return nil
}

// SummaryStep computes board statistics.
type SummaryStep struct{}

// NewSummaryStep creates a summary step.
func NewSummaryStep() *SummaryStep {
	return &SummaryStep{}
}

// Name returns the step name.
func (s *SummaryStep) Name() string {
	return "summary"
}

// Do fills report.Stats.
func (s *SummaryStep) Do(_ context.Context, report *model.CrawlReport) error {
	report.Stats = analysis.Summarize(report.AllPosts(), report.Unique)
	return nil
}

// SaveStep persists the report in the crawl store.
type SaveStep struct {
	store  RunSaver
	logger *slog.Logger
}

// NewSaveStep creates a save step.
func NewSaveStep(store RunSaver, logger *slog.Logger) *SaveStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveStep{store: store, logger: logger}
}

// Name returns the step name.
func (s *SaveStep) Name() string {
	return "save"
}

// Do saves the report and records its run ID.
func (s *SaveStep) Do(ctx context.Context, report *model.CrawlReport) error {
	if report.Result == nil {
		return nil
	}

	id, err := s.store.SaveRun(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to save crawl run: %w", err)
	}
	report.RunID = id

	s.logger.Info("crawl run saved", "board", report.Board, "run_id", id)
	return nil
}

// DefaultPipelineConfig holds configuration for the default pipeline.
type DefaultPipelineConfig struct {
	// MaxPages is the page ceiling of each crawl.
	MaxPages int

	// Delay is the fixed pause between page fetches.
	Delay time.Duration

	// StopOnEmptyPage ends a crawl at the first page without posts.
	StopOnEmptyPage bool

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Retries is the total number of attempts per page, 1 for no retry.
	Retries int

	// RateLimit is the minimum interval between requests, 0 for none.
	RateLimit time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Cookie is the cookie string to send with requests.
	Cookie string

	// Headers are additional HTTP headers to send with requests.
	Headers map[string]string

	// MaxBodySize is the largest accepted page body in bytes.
	MaxBodySize int64

	// ImageHost, NextLabel and CursorParam are the board markup markers.
	ImageHost   string
	NextLabel   string
	CursorParam string

	// Top is the number of ranked posts kept, 0 for all.
	Top int

	// Store, if set, receives every finished report.
	Store RunSaver

	// OnPage, if set, is called after every crawled page.
	OnPage func(model.PageVisit)

	// Logger is passed to every component.
	Logger *slog.Logger
}

// DefaultPipelineOption configures a DefaultPipelineConfig.
type DefaultPipelineOption func(*DefaultPipelineConfig)

// WithPipelineMaxPages sets the page ceiling.
func WithPipelineMaxPages(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.MaxPages = n
	}
}

// WithPipelineDelay sets the delay between page fetches.
func WithPipelineDelay(d time.Duration) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Delay = d
	}
}

// WithPipelineStopOnEmptyPage controls whether an empty page ends the crawl.
func WithPipelineStopOnEmptyPage(stop bool) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.StopOnEmptyPage = stop
	}
}

// WithPipelineTimeout sets the per-request timeout.
func WithPipelineTimeout(d time.Duration) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Timeout = d
	}
}

// WithPipelineRetries sets the number of attempts per page.
func WithPipelineRetries(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Retries = n
	}
}

// WithPipelineRateLimit sets the minimum interval between requests.
func WithPipelineRateLimit(d time.Duration) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.RateLimit = d
	}
}

// WithPipelineUserAgent sets the User-Agent header.
func WithPipelineUserAgent(ua string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.UserAgent = ua
	}
}

// WithPipelineCookie sets the cookie for HTTP requests.
func WithPipelineCookie(cookie string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Cookie = cookie
	}
}

// WithPipelineHeaders sets additional HTTP headers.
func WithPipelineHeaders(headers map[string]string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Headers = headers
	}
}

// WithPipelineMaxBodySize sets the largest accepted page body.
func WithPipelineMaxBodySize(n int64) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.MaxBodySize = n
	}
}

// WithPipelineMarkers sets the board markup markers. Empty values keep the
// itch.io defaults.
func WithPipelineMarkers(imageHost, nextLabel, cursorParam string) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.ImageHost = imageHost
		c.NextLabel = nextLabel
		c.CursorParam = cursorParam
	}
}

// WithPipelineTop sets the number of ranked posts kept.
func WithPipelineTop(n int) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Top = n
	}
}

// WithPipelineStore enables the save step.
func WithPipelineStore(store RunSaver) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Store = store
	}
}

// WithPipelineOnPage registers a function called after every crawled page.
func WithPipelineOnPage(fn func(model.PageVisit)) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.OnPage = fn
	}
}

// WithPipelineLogger sets the logger passed to every component.
func WithPipelineLogger(logger *slog.Logger) DefaultPipelineOption {
	return func(c *DefaultPipelineConfig) {
		c.Logger = logger
	}
}

// DefaultPipeline creates the standard board pipeline: crawl, dedupe, rank,
// summary and, when a store is configured, save.
//
// Each call builds its own HTTP client, closed by the crawl step when the
// crawl is over.
func DefaultPipeline(pipelineOpts []Option, configOpts ...DefaultPipelineOption) *Pipeline {
	cfg := &DefaultPipelineConfig{
		MaxPages:        crawler.DefaultMaxPages,
		Delay:           crawler.DefaultDelay,
		StopOnEmptyPage: true,
		Timeout:         fetch.DefaultTimeout,
		Retries:         1,
		UserAgent:       fetch.DefaultUserAgent,
		MaxBodySize:     fetch.DefaultMaxBodySize,
		Top:             100,
	}
	for _, opt := range configOpts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client := fetch.New(
		fetch.WithTimeout(cfg.Timeout),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithCookie(cfg.Cookie),
		fetch.WithHeaders(cfg.Headers),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithRetry(cfg.Retries),
		fetch.WithRateLimit(cfg.RateLimit),
		fetch.WithLogger(cfg.Logger),
	)

	parser := board.New(
		board.WithImageHost(cfg.ImageHost),
		board.WithNextLabel(cfg.NextLabel),
		board.WithCursorParam(cfg.CursorParam),
		board.WithLogger(cfg.Logger),
	)

	crawlOpts := []crawler.Option{
		crawler.WithMaxPages(cfg.MaxPages),
		crawler.WithDelay(cfg.Delay),
		crawler.WithStopOnEmptyPage(cfg.StopOnEmptyPage),
		crawler.WithLogger(cfg.Logger),
	}
	if cfg.OnPage != nil {
		crawlOpts = append(crawlOpts, crawler.WithPageHook(cfg.OnPage))
	}
	paginator := crawler.New(client, parser, crawlOpts...)

	p := New(append([]Option{WithLogger(cfg.Logger)}, pipelineOpts...)...)
	p.AddSteps(
		NewCrawlStep(paginator, WithCrawlCloser(client), WithCrawlLogger(cfg.Logger)),
		NewDedupeStep(),
		NewRankStep(cfg.Top),
		NewSummaryStep(),
	)
	if cfg.Store != nil {
		p.AddStep(NewSaveStep(cfg.Store, cfg.Logger))
	}

	return p
}
