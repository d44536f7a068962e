// Package analysis post-processes crawled posts.
//
// Crawling keeps every post it sees, duplicates included. This package
// provides the explicit steps applied afterwards:
//
//   - Deduplicate keeps the first-seen copy of each post ID
//   - Filter selects posts matching a predicate such as HasImage
//   - Rank orders posts by upvotes, downvotes and image count
//   - Top combines the three for the "best image posts" view
//   - Summarize computes board statistics for reports
//
// All functions return new slices and leave their input untouched.
package analysis
