package model

import "time"

// StopReason explains why a crawl loop ended.
type StopReason string

const (
	// StopEndOfChain means the last page had no next-page reference.
	StopEndOfChain StopReason = "end_of_chain"

	// StopEmptyPage means a page yielded zero posts.
	StopEmptyPage StopReason = "empty_page"

	// StopMaxPages means the page ceiling was reached while a next
	// reference was still available.
	StopMaxPages StopReason = "max_pages"

	// StopFetchError means a page could not be fetched.
	StopFetchError StopReason = "fetch_error"

	// StopParseError means a fetched page could not be parsed.
	StopParseError StopReason = "parse_error"

	// StopCancelled means the context was cancelled between pages.
	StopCancelled StopReason = "cancelled"
)

// Partial reports whether the reason indicates the crawl ended before the
// pagination chain was exhausted because of a failure or cancellation.
func (r StopReason) Partial() bool {
	switch r {
	case StopFetchError, StopParseError, StopCancelled:
		return true
	default:
		return false
	}
}

// CrawlResult is the outcome of one paginated crawl.
//
// A crawl that ended on a fetch or parse failure is still a result: Posts
// holds everything gathered up to the last successfully processed page and
// Err holds the failure.
type CrawlResult struct {
	// Seed is the reference the crawl started from.
	Seed string `json:"seed"`

	// Posts holds every extracted post in discovery order. Duplicates by ID
	// are kept; deduplication is a separate step.
	Posts []Post `json:"posts"`

	// Pages lists the references that were fetched and processed, in order.
	Pages []PageVisit `json:"pages"`

	// StopReason explains why the loop ended.
	StopReason StopReason `json:"stop_reason"`

	// Err is the failure that ended the crawl, if any.
	Err error `json:"-"`

	// ErrorMessage mirrors Err for serialization.
	ErrorMessage string `json:"error,omitempty"`

	// StartedAt and FinishedAt bound the crawl in wall-clock time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PageVisit records one fetched page.
type PageVisit struct {
	// Number is the 1-based page counter.
	Number int `json:"number"`

	// URL is the absolute reference that was fetched.
	URL string `json:"url"`

	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"status_code"`

	// PostCount is the number of posts extracted from the page.
	PostCount int `json:"post_count"`

	// Digest is a content digest of the raw body, filled by the store.
	Digest string `json:"digest,omitempty"`

	// Body is the raw page body. It is not serialized.
	Body []byte `json:"-"`
}

// PageCount returns the number of pages fetched and processed.
func (r *CrawlResult) PageCount() int {
	return len(r.Pages)
}

// Partial reports whether the crawl ended early on a failure.
func (r *CrawlResult) Partial() bool {
	return r.StopReason.Partial()
}

// Duration returns the wall-clock duration of the crawl.
func (r *CrawlResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// SetError records the failure that ended the crawl.
func (r *CrawlResult) SetError(reason StopReason, err error) {
	r.StopReason = reason
	r.Err = err
	if err != nil {
		r.ErrorMessage = err.Error()
	}
}
