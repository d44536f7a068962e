// Package fetch retrieves board pages over HTTP.
//
// Client implements crawler.Fetcher on top of a resty client. It adds the
// request policy a polite crawler needs: a per-request timeout, a browser
// User-Agent, optional session cookie and headers, a response size cap, an
// optional rate limit and bounded exponential retries for transient failures.
//
// Every failure is reported as *crawler.FetchError so the crawl loop can
// record the URL and status of the page that ended it.
//
// The Client is owned by whoever creates it and must be closed with Close.
package fetch
