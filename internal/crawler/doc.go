// Package crawler provides cursor-based paginated crawling for community boards.
//
// # Architecture
//
// The package is designed around the Paginator type, which walks a chain of
// "next page" references. It does not know how pages are fetched or what
// they look like: a Fetcher retrieves raw pages and a Site parses them,
// extracts posts and finds the next reference. This keeps the loop testable
// with in-memory fakes.
//
// # Crawl loop
//
// Starting from a seed reference, the Paginator repeats:
//
//  1. Fetch the current reference (failure ends the crawl, keeping earlier pages)
//  2. Parse the page (failure ends the crawl the same way)
//  3. Extract posts (an empty page ends the crawl)
//  4. Find the next reference (none ends the crawl)
//  5. Resolve it against the current page and pause for a fixed delay
//
// The loop never fetches more than the configured number of pages. The
// reference chain comes from an untrusted page, so both the page ceiling
// and the empty-page rule are policy knobs, not termination proofs.
//
// # Usage
//
//	p := crawler.New(fetcher, site, crawler.WithMaxPages(200))
//	result, err := p.Crawl(ctx, "https://example.itch.io/game")
//
// Duplicate posts are kept in the result. Deduplication and ranking live in
// the analysis package.
package crawler
