package model

import "time"

// CrawlReport is the per-board result assembled by the pipeline.
// Each step fills in its part: the crawl step sets Result, the dedupe step
// sets Unique, the rank step sets Ranked and the summary step sets Stats.
type CrawlReport struct {
	// Board is the seed URL of the crawled board.
	Board string `json:"board"`

	// DateCrawled is when the report was created.
	DateCrawled time.Time `json:"date_crawled"`

	// Result is the raw crawl outcome.
	Result *CrawlResult `json:"result,omitempty"`

	// Unique holds the deduplicated posts in first-seen order.
	Unique []Post `json:"unique,omitempty"`

	// Ranked holds the filtered and ranked subset of Unique.
	Ranked []Post `json:"ranked,omitempty"`

	// Stats summarizes Result and Unique.
	Stats *Stats `json:"stats,omitempty"`

	// RunID is the crawl store identifier, 0 when the report was not saved.
	RunID int64 `json:"run_id,omitempty"`

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string `json:"performed_steps,omitempty"`

	// TimedOut is set when the pipeline was cancelled.
	TimedOut bool `json:"timed_out"`

	// Err is the last step error, if any.
	Err error `json:"-"`

	// ErrorMessage mirrors Err for serialization.
	ErrorMessage string `json:"error,omitempty"`
}

// NewCrawlReport creates an empty report for the given board.
func NewCrawlReport(board string) *CrawlReport {
	return &CrawlReport{
		Board:       board,
		DateCrawled: time.Now(),
	}
}

// AllPosts returns the raw discovered posts, or nil before the crawl step ran.
func (r *CrawlReport) AllPosts() []Post {
	if r.Result == nil {
		return nil
	}
	return r.Result.Posts
}

// PagesCrawled returns the number of processed pages.
func (r *CrawlReport) PagesCrawled() int {
	if r.Result == nil {
		return 0
	}
	return r.Result.PageCount()
}

// Status returns a short human-readable crawl status.
func (r *CrawlReport) Status() string {
	switch {
	case r.TimedOut:
		return "cancelled (partial results)"
	case r.Result == nil:
		if r.ErrorMessage != "" {
			return "failed: " + r.ErrorMessage
		}
		return "not crawled"
	case r.Result.Partial():
		return "partial (" + string(r.Result.StopReason) + ")"
	default:
		return "complete (" + string(r.Result.StopReason) + ")"
	}
}
