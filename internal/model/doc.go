// Package model defines the core data structures used throughout postcrawl.
//
// This package contains the following main types:
//   - Post: One community post discovered on a board
//   - CrawlResult: The outcome of a single paginated crawl
//   - CrawlReport: The per-board result assembled by the pipeline
//   - Stats: Summary statistics over a set of posts
//
// Models live in their own package so that crawler, analysis, database and
// report can share them without import cycles. All of them serialize to
// JSON for report output and database storage.
package model
