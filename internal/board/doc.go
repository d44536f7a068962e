// Package board interprets itch.io-style community board pages.
//
// Parser implements crawler.Site. It turns a fetched HTML page into a
// goquery document, extracts one model.Post per community post element and
// finds the "Next page" link that carries the pagination cursor.
//
// Extraction is best-effort. Missing fields fall back to defaults
// ("Anonymous" author, "unknown" id, zero votes), and a vote count too large
// for an int is clamped with a logged warning. No post is dropped.
//
// The markers that differ between boards (image host, next-link label and
// cursor parameter) are options so the same parser serves any board built on
// the same markup.
package board
