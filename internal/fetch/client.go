package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/nao1215/postcrawl/internal/crawler"
)

// Default request policy.
const (
	// DefaultTimeout bounds a single request, including reading the body.
	DefaultTimeout = 15 * time.Second

	// DefaultUserAgent is a desktop browser string. Some boards serve a
	// reduced page to unknown clients.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// DefaultMaxBodySize is the largest page body accepted (10MB).
	DefaultMaxBodySize = 10 * 1024 * 1024

	// DefaultRetryInterval is the first backoff interval between attempts.
	DefaultRetryInterval = 2 * time.Second

	// maxRetryInterval caps the exponential backoff.
	maxRetryInterval = 30 * time.Second
)

// ErrBodyTooLarge is the cause of a FetchError for a page exceeding the
// configured body size.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Client fetches pages with a resty HTTP client.
type Client struct {
	http *resty.Client

	timeout     time.Duration
	userAgent   string
	headers     map[string]string
	cookie      string
	maxBodySize int64

	// maxAttempts is the total number of tries per page; 1 disables retry.
	maxAttempts   int
	retryInterval time.Duration

	// limiter, if set, is waited on before every request.
	limiter *rate.Limiter

	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHeaders adds extra request headers.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithCookie sets a raw Cookie header, e.g. a logged-in session.
func WithCookie(cookie string) Option {
	return func(c *Client) {
		c.cookie = cookie
	}
}

// WithMaxBodySize sets the largest accepted response body in bytes.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithRetry sets the total number of attempts per page. Values below 1 are
// treated as 1. Only transport failures, 5xx and 429 responses are retried.
func WithRetry(maxAttempts int) Option {
	return func(c *Client) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		c.maxAttempts = maxAttempts
	}
}

// WithRetryInterval sets the first backoff interval between attempts.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// WithRateLimit allows at most one request per interval across all
// fetches made by this client. Zero disables the limit.
func WithRateLimit(every time.Duration) Option {
	return func(c *Client) {
		if every <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(every), 1)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		timeout:       DefaultTimeout,
		userAgent:     DefaultUserAgent,
		headers:       make(map[string]string),
		maxBodySize:   DefaultMaxBodySize,
		maxAttempts:   1,
		retryInterval: DefaultRetryInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}

	httpClient := resty.New()
	httpClient.SetTimeout(c.timeout)
	httpClient.SetLogger(newRestyLogger(c.logger))
	httpClient.SetHeader("User-Agent", c.userAgent)
	httpClient.SetHeader("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	httpClient.SetHeaders(c.headers)
	if c.cookie != "" {
		httpClient.SetHeader("Cookie", c.cookie)
	}
	if c.limiter != nil {
		limiter := c.limiter
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	c.http = httpClient

	c.logger.Debug("http client ready",
		"timeout", c.timeout,
		"max_attempts", c.maxAttempts,
		"headers", httpClient.Header,
	)

	return c
}

// Fetch retrieves the page at ref. A non-2xx status, a transport failure or
// an oversized body is returned as *crawler.FetchError.
func (c *Client) Fetch(ctx context.Context, ref string) (*crawler.Response, error) {
	var page *crawler.Response
	attempt := 0

	operation := func() error {
		attempt++
		resp, err := c.get(ctx, ref)
		if err == nil {
			page = resp
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		var fe *crawler.FetchError
		if errors.As(err, &fe) && !fe.Temporary() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("fetch failed, retrying",
			"url", ref,
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		var fe *crawler.FetchError
		if !errors.As(err, &fe) {
			err = &crawler.FetchError{URL: ref, Err: err}
		}
		return nil, err
	}
	return page, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// newBackOff builds the retry schedule for one Fetch call.
func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.retryInterval
	exp.MaxInterval = maxRetryInterval
	exp.MaxElapsedTime = 0

	retries := uint64(0)
	if c.maxAttempts > 1 {
		retries = uint64(c.maxAttempts - 1)
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, retries), ctx)
}

// get performs a single request.
func (c *Client) get(ctx context.Context, ref string) (*crawler.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(ref)
	if err != nil {
		return nil, &crawler.FetchError{URL: ref, Err: err}
	}

	raw := resp.RawBody()
	if raw != nil {
		defer raw.Close()
	}

	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return nil, &crawler.FetchError{URL: ref, StatusCode: status}
	}
	if raw == nil {
		return &crawler.Response{
			URL:         ref,
			StatusCode:  status,
			ContentType: resp.Header().Get("Content-Type"),
			Body:        []byte{},
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(raw, c.maxBodySize+1))
	if err != nil {
		return nil, &crawler.FetchError{URL: ref, StatusCode: status, Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if int64(len(body)) > c.maxBodySize {
		return nil, &crawler.FetchError{URL: ref, StatusCode: status, Err: ErrBodyTooLarge}
	}

	c.logger.Debug("page fetched", "url", ref, "status", status, "bytes", len(body))

	return &crawler.Response{
		URL:         ref,
		StatusCode:  status,
		ContentType: resp.Header().Get("Content-Type"),
		Body:        body,
	}, nil
}
