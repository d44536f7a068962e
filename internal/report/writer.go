package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/postcrawl/internal/model"
)

// Writer defines the interface for report output.
// Implementations write crawl reports in various formats.
type Writer interface {
	// Write outputs the report to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.CrawlReport) (int, error)
}

// Format is a report output format.
type Format string

const (
	// FormatTable renders a terminal table.
	FormatTable Format = "table"
	// FormatCSV renders the post list as CSV.
	FormatCSV Format = "csv"
	// FormatJSON renders the full report as JSON.
	FormatJSON Format = "json"
	// FormatMarkdown renders a Markdown summary.
	FormatMarkdown Format = "markdown"
)

// ErrUnknownFormat is returned for unsupported output formats.
var ErrUnknownFormat = errors.New("unknown output format")

// Formats lists the supported output formats.
func Formats() []Format {
	return []Format{FormatTable, FormatCSV, FormatJSON, FormatMarkdown}
}

// ParseFormat parses a format name, case-insensitively. "md" is accepted
// for markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatCSV, FormatJSON, FormatMarkdown:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// New creates the Writer for format.
func New(format Format, output io.Writer, opts ...Option) (Writer, error) {
	switch format {
	case FormatTable:
		return NewTableWriter(output, opts...), nil
	case FormatCSV:
		return NewCSVWriter(output, opts...), nil
	case FormatJSON:
		return NewJSONWriter(output, append([]Option{WithPrettyPrint()}, opts...)...), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Option configures a report writer.
type Option func(*baseWriter)

// WithAllPosts makes writers output every unique post instead of the
// ranked top list.
func WithAllPosts(all bool) Option {
	return func(w *baseWriter) {
		w.allPosts = all
	}
}

// WithIndent enables indented output for writers that support it.
func WithIndent(prefix, indent string) Option {
	return func(w *baseWriter) {
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() Option {
	return WithIndent("", "  ")
}

// BatchWriter is implemented by writers that render several reports as one
// document rather than one after another.
type BatchWriter interface {
	WriteAll(reports []*model.CrawlReport) (int, error)
}

// WriteAll writes reports with w, in order. Writers implementing
// BatchWriter receive them in a single call.
func WriteAll(w Writer, reports []*model.CrawlReport) (int, error) {
	if bw, ok := w.(BatchWriter); ok {
		return bw.WriteAll(reports)
	}
	var total int
	for _, r := range reports {
		n, err := w.Write(r)
		total += n
		if err != nil {
			return total, fmt.Errorf("board %s: %w", r.Board, err)
		}
	}
	return total, nil
}

// MultiWriter sends every report to several writers, such as a CSV file and
// a terminal table.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a MultiWriter. Nil writers are ignored.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	m := &MultiWriter{writers: make([]Writer, 0, len(writers))}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

// Write passes report to each writer in turn and stops at the first error.
func (m *MultiWriter) Write(report *model.CrawlReport) (int, error) {
	return m.WriteAll([]*model.CrawlReport{report})
}

// WriteAll passes reports to each writer with WriteAll, so every writer
// keeps its own document layout.
func (m *MultiWriter) WriteAll(reports []*model.CrawlReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := WriteAll(w, reports)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer

	// allPosts selects Unique instead of Ranked.
	allPosts bool

	indentPrefix string
	indentString string
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer, opts []Option) baseWriter {
	w := baseWriter{output: output}
	for _, opt := range opts {
		opt(&w)
	}
	return w
}

// posts returns the post list the writer exports.
func (w *baseWriter) posts(report *model.CrawlReport) []model.Post {
	if w.allPosts {
		return report.Unique
	}
	return report.Ranked
}

// postsTitle names the exported post list.
func (w *baseWriter) postsTitle() string {
	if w.allPosts {
		return "All Unique Posts"
	}
	return "Top Posts With Images"
}

// truncate shortens s to at most maxRunes runes, appending "..." when cut.
func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

// preview flattens whitespace and truncates s for single-line cells.
func preview(s string, maxRunes int) string {
	return truncate(strings.Join(strings.Fields(s), " "), maxRunes)
}
