// Package pipeline turns a board URL into a finished crawl report.
//
// A Pipeline runs Steps in order against one *model.CrawlReport:
//
//	crawl -> dedupe -> rank -> summary -> save
//
// DefaultPipeline wires the standard steps to an HTTP fetcher, the board
// parser and the paginator. BatchProcessor runs one pipeline per board with
// bounded concurrency, while each board's pages are still fetched one after
// another.
package pipeline
