package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/postcrawl/internal/model"
)

// Default crawl policy values.
const (
	// DefaultMaxPages is the page ceiling used when none is configured.
	DefaultMaxPages = 100

	// DefaultDelay is the fixed pause between two page fetches.
	DefaultDelay = 1500 * time.Millisecond
)

// Response is a fetched page.
type Response struct {
	// URL is the reference that was requested.
	URL string

	// StatusCode is the HTTP status of the response.
	StatusCode int

	// ContentType is the value of the Content-Type header.
	ContentType string

	// Body is the raw response body.
	Body []byte
}

// Document is a parsed page. Its concrete type belongs to the Parser that
// produced it; the Paginator never looks inside.
type Document any

// Fetcher retrieves the page at a reference.
// Failures should be reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*Response, error)
}

// Parser turns a fetched page into a Document.
// Failures should be reported as *ParseError.
type Parser interface {
	Parse(resp *Response) (Document, error)
}

// RecordExtractor yields the posts of a parsed page. It has no failure
// mode beyond returning an empty slice.
type RecordExtractor interface {
	Records(doc Document, page int) []model.Post
}

// NextExtractor yields the next-page reference of a parsed page, or ""
// when there is none. The reference may be relative.
type NextExtractor interface {
	Next(doc Document) string
}

// Site bundles the three document-facing collaborators of a crawl.
type Site interface {
	Parser
	RecordExtractor
	NextExtractor
}

// Paginator walks a cursor-based pagination chain.
//
// Each page is fetched only after the previous one has been fully
// processed, because the reference for page N+1 is only known once page N
// has been parsed. A Paginator holds configuration only; every call to
// Crawl owns its own state, so one Paginator may serve concurrent crawls
// if its Fetcher and Site allow it.
type Paginator struct {
	fetcher Fetcher
	site    Site

	// maxPages bounds the number of fetches. The pagination chain comes
	// from an untrusted page and may be cyclic.
	maxPages int

	// delay is the fixed pause between fetches.
	delay time.Duration

	// stopOnEmpty ends the crawl on a page without posts even if that page
	// links to a next page.
	stopOnEmpty bool

	logger *slog.Logger

	// onPage, if set, is called after every processed page.
	onPage func(model.PageVisit)

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Paginator.
type Option func(*Paginator)

// WithMaxPages sets the maximum number of pages to fetch.
func WithMaxPages(n int) Option {
	return func(p *Paginator) {
		p.maxPages = n
	}
}

// WithDelay sets the fixed delay between page fetches.
func WithDelay(d time.Duration) Option {
	return func(p *Paginator) {
		p.delay = d
	}
}

// WithStopOnEmptyPage controls whether a page without posts ends the crawl.
// It defaults to true. Boards without an explicit "no more pages" signal
// need it; boards with reliable next links may turn it off.
func WithStopOnEmptyPage(stop bool) Option {
	return func(p *Paginator) {
		p.stopOnEmpty = stop
	}
}

// WithLogger sets the logger used for crawl progress.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Paginator) {
		p.logger = logger
	}
}

// WithPageHook registers a function called after every processed page.
func WithPageHook(fn func(model.PageVisit)) Option {
	return func(p *Paginator) {
		p.onPage = fn
	}
}

// New creates a Paginator that fetches with f and interprets pages with s.
func New(f Fetcher, s Site, opts ...Option) *Paginator {
	p := &Paginator{
		fetcher:     f,
		site:        s,
		maxPages:    DefaultMaxPages,
		delay:       DefaultDelay,
		stopOnEmpty: true,
		sleep:       sleepContext,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Crawl fetches pages starting at seed until the chain ends, a page is
// empty, the page ceiling is reached, a page fails or ctx is cancelled.
//
// The returned error is non-nil only for invalid input. Fetch and parse
// failures end the crawl early and are recorded in the result together
// with every post gathered before the failing page.
func (p *Paginator) Crawl(ctx context.Context, seed string) (*model.CrawlResult, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, ErrEmptySeed
	}
	if p.maxPages <= 0 {
		return nil, ErrInvalidMaxPages
	}
	if _, err := url.Parse(seed); err != nil {
		return nil, fmt.Errorf("invalid seed reference: %w", err)
	}

	result := &model.CrawlResult{
		Seed:       seed,
		Posts:      make([]model.Post, 0),
		Pages:      make([]model.PageVisit, 0),
		StartedAt:  time.Now(),
		StopReason: model.StopEndOfChain,
	}
	defer func() {
		result.FinishedAt = time.Now()
		p.logger.Info("crawl finished",
			"seed", seed,
			"pages", result.PageCount(),
			"posts", len(result.Posts),
			"reason", result.StopReason,
		)
	}()

	current := seed
	page := 1

	for current != "" && page <= p.maxPages {
		if err := ctx.Err(); err != nil {
			result.SetError(model.StopCancelled, err)
			return result, nil
		}

		p.logger.Info("fetching page", "page", page, "url", current)

		resp, err := p.fetcher.Fetch(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				result.SetError(model.StopCancelled, ctx.Err())
				return result, nil
			}
			p.logger.Error("fetch failed", "page", page, "url", current, "error", err)
			result.SetError(model.StopFetchError, asFetchError(current, err))
			return result, nil
		}

		doc, err := p.site.Parse(resp)
		if err != nil {
			p.logger.Error("parse failed", "page", page, "url", current, "error", err)
			result.SetError(model.StopParseError, asParseError(current, err))
			return result, nil
		}

		posts := p.site.Records(doc, page)
		visit := model.PageVisit{
			Number:     page,
			URL:        current,
			StatusCode: resp.StatusCode,
			PostCount:  len(posts),
			Body:       resp.Body,
		}
		result.Pages = append(result.Pages, visit)
		if p.onPage != nil {
			p.onPage(visit)
		}

		if len(posts) == 0 && p.stopOnEmpty {
			p.logger.Info("no posts found, stopping", "page", page)
			result.StopReason = model.StopEmptyPage
			return result, nil
		}

		result.Posts = append(result.Posts, posts...)
		p.logger.Debug("page processed",
			"page", page,
			"posts", len(posts),
			"total", len(result.Posts),
		)

		next := p.site.Next(doc)
		if next == "" {
			p.logger.Info("no next page link found, reached end", "page", page)
			result.StopReason = model.StopEndOfChain
			return result, nil
		}

		resolved, err := resolveReference(current, next)
		if err != nil {
			p.logger.Error("invalid next page reference", "page", page, "next", next, "error", err)
			result.SetError(model.StopParseError, &ParseError{URL: current, Err: err})
			return result, nil
		}

		current = resolved
		page++

		if page > p.maxPages {
			p.logger.Info("page limit reached", "max_pages", p.maxPages)
			result.StopReason = model.StopMaxPages
			return result, nil
		}

		if p.delay > 0 {
			if err := p.sleep(ctx, p.delay); err != nil {
				result.SetError(model.StopCancelled, err)
				return result, nil
			}
		}
	}

	return result, nil
}

// resolveReference resolves ref against the page it was found on.
func resolveReference(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// asFetchError wraps err in a *FetchError unless it already is one.
func asFetchError(ref string, err error) error {
	var fe *FetchError
	if errors.As(err, &fe) {
		return err
	}
	return &FetchError{URL: ref, Err: err}
}

// asParseError wraps err in a *ParseError unless it already is one.
func asParseError(ref string, err error) error {
	var pe *ParseError
	if errors.As(err, &pe) {
		return err
	}
	return &ParseError{URL: ref, Err: err}
}

// sleepContext blocks for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
