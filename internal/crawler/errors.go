package crawler

import (
	"errors"
	"fmt"
)

// Input validation errors returned by Paginator.Crawl.
var (
	// ErrEmptySeed is returned when the seed reference is empty.
	ErrEmptySeed = errors.New("seed reference must not be empty")

	// ErrInvalidMaxPages is returned when the page ceiling is not positive.
	ErrInvalidMaxPages = errors.New("max pages must be positive")
)

// FetchError is returned by a Fetcher when a page cannot be retrieved,
// either because of a transport failure or a non-success HTTP status.
type FetchError struct {
	// URL is the reference that was requested.
	URL string

	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	}
}

// Unwrap returns the underlying cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed.
// Transport failures and 5xx or 429 responses are temporary; other
// statuses are not.
func (e *FetchError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ParseError is returned by a Parser when a fetched page cannot be
// interpreted as a board document.
type ParseError struct {
	// URL is the reference of the page that failed to parse.
	URL string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExtractionWarning describes a problem with a single post, such as a vote
// count out of range. It never aborts a page; the warning is logged and the
// site decides whether the post is kept.
type ExtractionWarning struct {
	// Page is the page number the post was on.
	Page int

	// Index is the position of the post element on the page.
	Index int

	// PostID is the identifier of the post, if it was readable.
	PostID string

	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (w *ExtractionWarning) Error() string {
	if w.PostID != "" {
		return fmt.Sprintf("page %d: post %d (%s): %v", w.Page, w.Index, w.PostID, w.Err)
	}
	return fmt.Sprintf("page %d: post %d: %v", w.Page, w.Index, w.Err)
}

// Unwrap returns the underlying cause.
func (w *ExtractionWarning) Unwrap() error {
	return w.Err
}
