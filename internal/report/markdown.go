package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"github.com/nao1215/postcrawl/internal/model"
)

// maxMarkdownContent is the content preview length in Markdown tables.
const maxMarkdownContent = 80

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...Option) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output, opts)}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *model.CrawlReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeSummary(md, report)
	w.writePosts(md, report)
	w.writeAuthors(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeHeader writes the report header with crawl information.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *model.CrawlReport) {
	md.H1("Board Crawl Report")
	md.PlainText("")

	rows := [][]string{
		{"Board", "`" + report.Board + "`"},
		{"Crawl Date", report.DateCrawled.Format("2006-01-02 15:04:05 MST")},
		{"Pages Crawled", strconv.Itoa(report.PagesCrawled())},
		{"Status", w.statusText(report)},
	}
	if report.RunID > 0 {
		rows = append(rows, []string{"Run", strconv.FormatInt(report.RunID, 10)})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")

	switch {
	case report.TimedOut:
		md.Warningf("Crawl was cancelled after %d page(s); results are partial.", report.PagesCrawled())
	case report.Result != nil && report.Result.Partial():
		md.Cautionf("Crawl stopped early (%s): %s", report.Result.StopReason, report.Result.ErrorMessage)
	default:
		return
	}
	md.PlainText("")
}

// statusText returns the status text based on report state.
func (w *MarkdownWriter) statusText(report *model.CrawlReport) string {
	status := report.Status()
	switch {
	case report.TimedOut:
		return "⚠️ " + status
	case report.Result == nil, report.Result.Partial():
		return "❌ " + status
	default:
		return "✅ " + status
	}
}

// writeSummary writes the statistics table and the upvote distribution.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2("Summary")
	md.PlainText("")

	stats := report.Stats
	if stats == nil {
		md.PlainText("No statistics available.")
		md.PlainText("")
		return
	}

	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Posts scraped", strconv.Itoa(stats.TotalScraped)},
			{"Unique posts", strconv.Itoa(stats.Unique)},
			{"Posts with images", strconv.Itoa(stats.WithImages)},
			{"Duplication ratio", fmt.Sprintf("%.2f", stats.DuplicationRatio)},
			{"Highest upvotes", strconv.Itoa(stats.HighestUpvotes)},
			{"Total images", strconv.Itoa(stats.TotalImages)},
			{"Average images per post", fmt.Sprintf("%.2f", stats.AverageImages)},
			{"Posts with multiple images", strconv.Itoa(stats.MultiImagePosts)},
			{"Most images on one post", strconv.Itoa(stats.MaxImages)},
		},
	})
	md.PlainText("")

	if stats.WithImages > 0 {
		w.writePieChart(md, stats)
	}
}

// writePieChart writes a mermaid pie chart for the upvote distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, stats *model.Stats) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Upvote Distribution"),
		piechart.WithShowData(true),
	)

	for _, b := range stats.Distribution {
		if b.Count > 0 {
			chart.LabelAndIntValue(b.Label, uint64(b.Count))
		}
	}

	md.H3("Upvote Distribution")
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writePosts writes the exported post list.
func (w *MarkdownWriter) writePosts(md *markdown.Markdown, report *model.CrawlReport) {
	md.H2(w.postsTitle())
	md.PlainText("")

	posts := w.posts(report)
	if len(posts) == 0 {
		md.PlainText("No posts found.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(posts))
	for i, p := range posts {
		rows[i] = []string{
			strconv.Itoa(i + 1),
			escapeCell(p.Author),
			strconv.Itoa(p.Upvotes),
			strconv.Itoa(p.Downvotes),
			strconv.Itoa(p.ImageCount()),
			escapeCell(preview(p.Content, maxMarkdownContent)),
			imageLinks(p.ImageURLs),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"#", "Author", "Upvotes", "Downvotes", "Images", "Content", "Links"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeAuthors writes the top author table.
func (w *MarkdownWriter) writeAuthors(md *markdown.Markdown, report *model.CrawlReport) {
	if report.Stats == nil || len(report.Stats.TopAuthors) == 0 {
		return
	}

	md.H2("Top Authors")
	md.PlainText("")

	rows := make([][]string, len(report.Stats.TopAuthors))
	for i, a := range report.Stats.TopAuthors {
		rows[i] = []string{
			escapeCell(a.Author),
			strconv.Itoa(a.Posts),
			strconv.Itoa(a.TotalUpvotes),
			fmt.Sprintf("%.1f", a.Average),
			strconv.Itoa(a.MaxUpvotes),
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Author", "Posts", "Total Upvotes", "Average", "Best"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [postcrawl](https://github.com/nao1215/postcrawl)*")
}

// imageLinks renders numbered links to a post's images.
func imageLinks(urls []string) string {
	if len(urls) == 0 {
		return "-"
	}
	links := make([]string, len(urls))
	for i, u := range urls {
		links[i] = fmt.Sprintf("[%d](%s)", i+1, u)
	}
	return strings.Join(links, " ")
}

// escapeCell keeps user text from breaking the table layout.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
