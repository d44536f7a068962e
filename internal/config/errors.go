package config

import (
	"errors"
	"fmt"
)

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoBoard is returned when no board URL is given.
	ErrNoBoard = errors.New("no board specified: provide at least one board URL")

	// ErrInvalidBoardURL is returned for board arguments that are not
	// absolute http(s) URLs. It is wrapped by BoardURLError.
	ErrInvalidBoardURL = errors.New("invalid board URL: must be an absolute http(s) URL")

	// ErrInvalidMaxPages is returned when the page ceiling is below 1.
	ErrInvalidMaxPages = errors.New("invalid max pages: must be at least 1")

	// ErrInvalidDelay is returned when the crawl delay is negative.
	// Use 0 for no delay between requests.
	ErrInvalidDelay = errors.New("invalid delay: must be non-negative")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRetries is returned when fewer than one attempt is configured.
	ErrInvalidRetries = errors.New("invalid retries: must be at least 1")

	// ErrInvalidRateLimit is returned when the rate limit interval is negative.
	ErrInvalidRateLimit = errors.New("invalid rate limit: must be non-negative")

	// ErrInvalidTop is returned when the top count is negative.
	ErrInvalidTop = errors.New("invalid top: must be non-negative")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	// Use 0 to keep the default limit.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")
)

// BoardURLError reports a malformed board argument.
type BoardURLError struct {
	URL string
}

func (e *BoardURLError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidBoardURL, e.URL)
}

// Unwrap returns ErrInvalidBoardURL.
func (e *BoardURLError) Unwrap() error {
	return ErrInvalidBoardURL
}
