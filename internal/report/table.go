package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/nao1215/postcrawl/internal/model"
)

const (
	// DefaultTableWidth bounds the content column of terminal tables.
	DefaultTableWidth = 120

	maxTableContent = 60
	maxTableAuthor  = 24
)

// TableWriter renders a report as terminal tables.
type TableWriter struct {
	baseWriter
}

// NewTableWriter creates a TableWriter that outputs to the given writer.
func NewTableWriter(output io.Writer, opts ...Option) *TableWriter {
	return &TableWriter{baseWriter: newBaseWriter(output, opts)}
}

// Write renders the crawl summary followed by the exported posts.
func (w *TableWriter) Write(report *model.CrawlReport) (int, error) {
	var sb strings.Builder

	sb.WriteString(w.renderSummary(report))
	sb.WriteString("\n\n")
	sb.WriteString(w.renderPosts(report))
	sb.WriteString("\n")

	if report.Stats != nil && len(report.Stats.Distribution) > 0 && report.Stats.WithImages > 0 {
		sb.WriteString("\n")
		sb.WriteString(renderDistribution(report.Stats))
		sb.WriteString("\n")
	}

	return io.WriteString(w.output, sb.String())
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (w *TableWriter) renderSummary(report *model.CrawlReport) string {
	t := newTable()
	t.SetTitle("Board Crawl Report")
	t.AppendRow(table.Row{"Board", report.Board})
	t.AppendRow(table.Row{"Status", report.Status()})
	t.AppendRow(table.Row{"Pages Crawled", report.PagesCrawled()})
	if report.RunID > 0 {
		t.AppendRow(table.Row{"Run", report.RunID})
	}
	if s := report.Stats; s != nil {
		t.AppendSeparator()
		t.AppendRow(table.Row{"Posts scraped", s.TotalScraped})
		t.AppendRow(table.Row{"Unique posts", s.Unique})
		t.AppendRow(table.Row{"Posts with images", s.WithImages})
		t.AppendRow(table.Row{"Duplication ratio", fmt.Sprintf("%.2f", s.DuplicationRatio)})
		t.AppendRow(table.Row{"Highest upvotes", s.HighestUpvotes})
		t.AppendRow(table.Row{"Average images", fmt.Sprintf("%.2f", s.AverageImages)})
	}
	return t.Render()
}

func (w *TableWriter) renderPosts(report *model.CrawlReport) string {
	posts := w.posts(report)

	t := newTable()
	t.SetTitle(w.postsTitle())
	t.Style().Options.SeparateRows = false
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: maxTableAuthor},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, WidthMax: DefaultTableWidth / 2},
	})
	t.AppendHeader(table.Row{"#", "Author", "Up", "Down", "Images", "Content"})

	for i, p := range posts {
		t.AppendRow(table.Row{
			i + 1,
			truncate(p.Author, maxTableAuthor),
			p.Upvotes,
			p.Downvotes,
			p.ImageCount(),
			preview(p.Content, maxTableContent),
		})
	}

	t.AppendFooter(table.Row{"Total", len(posts), "", "", "", ""})
	return t.Render()
}

func renderDistribution(stats *model.Stats) string {
	t := newTable()
	t.SetTitle("Upvote Distribution")
	t.AppendHeader(table.Row{"Range", "Posts", "Share"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})

	for _, b := range stats.Distribution {
		t.AppendRow(table.Row{b.Label, b.Count, fmt.Sprintf("%.1f%%", b.Percent(stats.WithImages))})
	}
	return t.Render()
}
