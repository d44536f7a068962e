// Package database provides SQLite-based storage for crawl runs.
//
// Every saved run keeps:
//   - A summary row with counts, stop reason and the serialized report
//   - The unique posts, one row each, in first-seen order
//   - The fetched pages with a SHA3-256 digest of each body
//
// The store backs the history and analyze commands: listing runs per board,
// reloading a run for re-rendering, and comparing two runs post by post.
//
// SQLite (via modernc.org/sqlite) keeps the store a single CGO-free file.
// Batch crawls share one handle, so the connection pool is capped at one
// connection.
package database
