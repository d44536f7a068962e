package board

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/postcrawl/internal/crawler"
	"github.com/nao1215/postcrawl/internal/model"
)

// Default markers for itch.io community boards.
const (
	// DefaultImageHost is the substring identifying user-posted images.
	DefaultImageHost = "itch.zone"

	// DefaultNextLabel is the text of the link to the next page.
	DefaultNextLabel = "Next page"

	// DefaultCursorParam is the query fragment carrying the pagination cursor.
	DefaultCursorParam = "before="
)

// CSS selectors for the community board markup.
const (
	postSelector      = "div.community_post"
	bodySelector      = "div.post_body"
	voteSelector      = "span.upvotes, span.downvotes"
	profileLinkMarker = "/profile/"
)

// minContentLength is the shortest text fragment kept in post content.
// Shorter fragments are vote arrows and separators.
const minContentLength = 3

var (
	// voteCountPattern matches vote counts such as "(+3)" or "(-1)".
	voteCountPattern = regexp.MustCompile(`\(([+-]?\d+)\)`)

	// voteMarkerPattern matches a text fragment that is only a vote count.
	voteMarkerPattern = regexp.MustCompile(`^\([+-]?\d+\)$`)

	// timestampPatterns match relative timestamps, most specific first.
	timestampPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d+\s+(minute|hour|day|week|month)s?\s+ago`),
		regexp.MustCompile(`(?i)\d+[mhd]\s+ago`),
	}

	// arrowGlyphs are vote button labels rendered as text.
	arrowGlyphs = map[string]bool{
		"↑": true,
		"↓": true,
		"▲": true,
		"▼": true,
	}
)

// errNotHTML is the cause of a ParseError for non-HTML responses.
var errNotHTML = errors.New("response is not an HTML document")

// Document is a parsed board page.
type Document struct {
	// URL is the address the page was fetched from.
	URL *url.URL

	doc *goquery.Document
}

var _ crawler.Site = (*Parser)(nil)

// Parser extracts posts and the next-page reference from board pages.
type Parser struct {
	imageHost   string
	nextLabel   string
	cursorParam string
	logger      *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithImageHost sets the substring an image URL must contain to count as a
// post image.
func WithImageHost(host string) Option {
	return func(p *Parser) {
		if host != "" {
			p.imageHost = host
		}
	}
}

// WithNextLabel sets the text that identifies the next-page link.
func WithNextLabel(label string) Option {
	return func(p *Parser) {
		if label != "" {
			p.nextLabel = label
		}
	}
}

// WithCursorParam sets the substring the next-page href must contain.
func WithCursorParam(param string) Option {
	return func(p *Parser) {
		if param != "" {
			p.cursorParam = param
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// New creates a Parser with itch.io defaults.
func New(opts ...Option) *Parser {
	p := &Parser{
		imageHost:   DefaultImageHost,
		nextLabel:   DefaultNextLabel,
		cursorParam: DefaultCursorParam,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// Parse builds a Document from a fetched page.
func (p *Parser) Parse(resp *crawler.Response) (crawler.Document, error) {
	if !isHTML(resp.ContentType) {
		return nil, &crawler.ParseError{
			URL: resp.URL,
			Err: fmt.Errorf("%w: content type %q", errNotHTML, resp.ContentType),
		}
	}

	base, err := url.Parse(resp.URL)
	if err != nil {
		return nil, &crawler.ParseError{URL: resp.URL, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &crawler.ParseError{URL: resp.URL, Err: err}
	}

	return &Document{URL: base, doc: doc}, nil
}

// Records extracts every community post on the page. Problems with a single
// post are logged as an ExtractionWarning; the post is kept with what could
// be read.
func (p *Parser) Records(d crawler.Document, page int) []model.Post {
	doc, ok := d.(*Document)
	if !ok || doc == nil {
		return []model.Post{}
	}

	selection := doc.doc.Find(postSelector)
	p.logger.Debug("community posts found", "page", page, "count", selection.Length())

	posts := make([]model.Post, 0, selection.Length())
	selection.Each(func(i int, s *goquery.Selection) {
		post, err := p.extractPost(s, doc.URL, page)
		if err != nil {
			warning := &crawler.ExtractionWarning{Page: page, Index: i, PostID: post.ID, Err: err}
			p.logger.Warn("post extracted with warnings", "error", warning)
		}
		posts = append(posts, post)
	})

	return posts
}

// Next returns the resolved next-page reference, or "" when the page has no
// link carrying a pagination cursor.
func (p *Parser) Next(d crawler.Document) string {
	doc, ok := d.(*Document)
	if !ok || doc == nil {
		return ""
	}

	var next string
	doc.doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.Contains(s.Text(), p.nextLabel) {
			return true
		}
		href, exists := s.Attr("href")
		if !exists || !strings.Contains(href, p.cursorParam) {
			return true
		}
		next = href
		return false
	})

	if next == "" {
		return ""
	}
	return resolveURL(doc.URL, next)
}

// extractPost reads one post element. The post is complete even when an
// error is returned.
func (p *Parser) extractPost(s *goquery.Selection, base *url.URL, page int) (model.Post, error) {
	post := model.Post{
		ID:   s.AttrOr("id", model.UnknownPostID),
		Page: page,
	}
	if post.ID == "" {
		post.ID = model.UnknownPostID
	}

	upvotes, downvotes, err := extractVotes(s)

	post.Author = extractAuthor(s)
	post.Content = extractContent(s)
	post.ImageURLs = p.extractImages(s, base)
	post.Upvotes = upvotes
	post.Downvotes = downvotes
	post.Timestamp = extractTimestamp(s)

	return post, err
}

// extractAuthor returns the text of the first profile link.
func extractAuthor(s *goquery.Selection) string {
	author := model.AnonymousAuthor
	s.Find("a").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href := link.AttrOr("href", "")
		name := strings.TrimSpace(link.Text())
		if strings.Contains(href, profileLinkMarker) && name != "" {
			author = name
			return false
		}
		return true
	})
	return author
}

// extractContent joins the meaningful text fragments of the post body.
// Vote counts, reply buttons, relative timestamps and arrow glyphs are
// dropped.
func extractContent(s *goquery.Selection) string {
	body := s.Find(bodySelector).First()
	if body.Length() == 0 {
		return ""
	}

	var parts []string
	for _, n := range body.Nodes {
		collectText(n, func(text string) {
			text = strings.TrimSpace(text)
			if keepFragment(text) {
				parts = append(parts, text)
			}
		})
	}

	return norm.NFC.String(strings.TrimSpace(strings.Join(parts, " ")))
}

// collectText calls fn for every text node below n in document order.
func collectText(n *html.Node, fn func(string)) {
	if n.Type == html.TextNode {
		fn(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, fn)
	}
}

func keepFragment(text string) bool {
	if utf8.RuneCountInString(text) < minContentLength {
		return false
	}
	if voteMarkerPattern.MatchString(text) {
		return false
	}
	if strings.Contains(text, "Reply") || strings.Contains(text, "ago") {
		return false
	}
	return !arrowGlyphs[text]
}

// extractImages returns the resolved, de-duplicated image URLs hosted on
// the image host, in document order.
func (p *Parser) extractImages(s *goquery.Selection, base *url.URL) []string {
	urls := make([]string, 0)
	seen := make(map[string]bool)

	s.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, exists := img.Attr("src")
		if !exists || src == "" || !strings.Contains(src, p.imageHost) {
			return
		}
		full := resolveURL(base, src)
		if seen[full] {
			return
		}
		seen[full] = true
		urls = append(urls, full)
	})

	return urls
}

// errVoteOutOfRange reports a vote count too large for an int.
var errVoteOutOfRange = errors.New("vote count out of range")

// extractVotes returns the largest upvote count and the largest absolute
// downvote count found in the post's vote spans. A count too large for an
// int is clamped to math.MaxInt and reported with errVoteOutOfRange.
func extractVotes(s *goquery.Selection) (int, int, error) {
	upvotes, downvotes := 0, 0
	var err error

	s.Find(voteSelector).Each(func(_ int, span *goquery.Selection) {
		match := voteCountPattern.FindStringSubmatch(strings.TrimSpace(span.Text()))
		if match == nil {
			return
		}
		count, convErr := strconv.Atoi(match[1])
		if convErr != nil {
			count = math.MaxInt
			if strings.HasPrefix(match[1], "-") {
				count = -math.MaxInt
			}
			err = fmt.Errorf("%w: %s", errVoteOutOfRange, match[1])
		}
		if span.HasClass("upvotes") {
			upvotes = max(upvotes, count)
		} else if span.HasClass("downvotes") {
			downvotes = max(downvotes, abs(count))
		}
	})

	return upvotes, downvotes, err
}

// extractTimestamp returns the first relative timestamp in the post text.
func extractTimestamp(s *goquery.Selection) string {
	text := s.Text()
	for _, pattern := range timestampPatterns {
		if match := pattern.FindString(text); match != "" {
			return match
		}
	}
	return ""
}

// resolveURL resolves ref against base, returning ref unchanged when either
// cannot be parsed.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// isHTML reports whether a Content-Type header names an HTML document.
// An absent header is accepted.
func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
