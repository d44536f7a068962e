// Package main provides the entry point for the postcrawl CLI.
//
// postcrawl follows the cursor-paginated "Next page" chain of discussion
// boards, deduplicates the posts it finds, ranks the ones carrying images
// and exports them as a table, CSV, JSON or Markdown report.
//
// Usage:
//
//	postcrawl crawl <board-url>
//	postcrawl analyze --csv posts.csv
//	postcrawl history <board-url>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
