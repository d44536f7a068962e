package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/postcrawl/internal/model"
)

// MaxCSVContent is the number of content runes kept per CSV row.
const MaxCSVContent = 500

// csvHeader is the column layout shared by CSVWriter and ReadCSV.
var csvHeader = []string{
	"Author",
	"Content",
	"Upvotes",
	"Downvotes",
	"Timestamp",
	"Has_Image",
	"Image_Count",
	"Image_URLs",
	"Page_Number",
	"Post_ID",
}

// imageURLSeparator joins image URLs inside one CSV cell.
const imageURLSeparator = ";"

// ErrMissingColumn is returned by ReadCSV when a required column is absent.
var ErrMissingColumn = errors.New("missing CSV column")

// CSVWriter outputs the exported posts, one row per post. The header row is
// written once, so the reports of several boards form a single CSV file.
type CSVWriter struct {
	baseWriter

	headerWritten bool
}

// NewCSVWriter creates a CSVWriter that outputs to the given writer.
func NewCSVWriter(output io.Writer, opts ...Option) *CSVWriter {
	return &CSVWriter{baseWriter: newBaseWriter(output, opts)}
}

// Write outputs the report's posts as CSV rows, preceded by the header
// row on the first call.
func (w *CSVWriter) Write(report *model.CrawlReport) (int, error) {
	var buf bytes.Buffer
	if err := writeCSV(&buf, w.posts(report), !w.headerWritten); err != nil {
		return 0, err
	}
	w.headerWritten = true
	return w.output.Write(buf.Bytes())
}

// WriteCSV writes posts with a header row.
func WriteCSV(output io.Writer, posts []model.Post) error {
	return writeCSV(output, posts, true)
}

func writeCSV(output io.Writer, posts []model.Post, header bool) error {
	cw := csv.NewWriter(output)
	if header {
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}

	for _, p := range posts {
		record := []string{
			p.Author,
			truncate(p.Content, MaxCSVContent),
			strconv.Itoa(p.Upvotes),
			strconv.Itoa(p.Downvotes),
			p.Timestamp,
			pyBool(p.HasImage()),
			strconv.Itoa(p.ImageCount()),
			strings.Join(p.ImageURLs, imageURLSeparator),
			strconv.Itoa(p.Page),
			p.ID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write post %s: %w", p.ID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// pyBool renders booleans the way existing exports spell them.
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

// ReadCSV parses posts written by WriteCSV. Columns are matched by header
// name, so extra columns and reordering are tolerated. Image_URLs is the
// source of truth for images; Has_Image and Image_Count are ignored.
func ReadCSV(input io.Reader) ([]model.Post, error) {
	cr := csv.NewReader(input)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []model.Post{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	for _, required := range []string{"Post_ID", "Upvotes"} {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	posts := make([]model.Post, 0)
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		}
		number := func(name string) (int, error) {
			v := strings.TrimSpace(field(name))
			if v == "" {
				return 0, nil
			}
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("line %d: invalid %s %q: %w", line, name, v, err)
			}
			return n, nil
		}

		p := model.Post{
			ID:        field("Post_ID"),
			Author:    field("Author"),
			Content:   field("Content"),
			Timestamp: field("Timestamp"),
			ImageURLs: splitImageURLs(field("Image_URLs")),
		}
		if p.Upvotes, err = number("Upvotes"); err != nil {
			return nil, err
		}
		if p.Downvotes, err = number("Downvotes"); err != nil {
			return nil, err
		}
		if p.Page, err = number("Page_Number"); err != nil {
			return nil, err
		}

		posts = append(posts, p)
	}

	return posts, nil
}

func splitImageURLs(cell string) []string {
	urls := make([]string, 0)
	for _, u := range strings.Split(cell, imageURLSeparator) {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}
