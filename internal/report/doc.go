// Package report renders crawl reports.
//
// Writers for the supported output formats:
//   - TableWriter: terminal tables (go-pretty)
//   - CSVWriter: one row per post, readable again with ReadCSV
//   - JSONWriter: the report with stats and the exported posts
//   - MarkdownWriter: summary, post and author tables plus a mermaid chart
//
// Every writer exports either the ranked top list or, with WithAllPosts,
// every unique post. WriteAll writes the reports of several boards as one
// document: CSVWriter emits a single header row and JSONWriter an array.
// MultiWriter sends the same reports to several writers.
package report
