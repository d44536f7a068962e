package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/postcrawl/internal/model"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
type JSONWriter struct {
	baseWriter
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
// Output is compact unless WithIndent or WithPrettyPrint is given.
func NewJSONWriter(output io.Writer, opts ...Option) *JSONWriter {
	return &JSONWriter{baseWriter: newBaseWriter(output, opts)}
}

// JSONReport is the document written by JSONWriter.
//
// Posts holds the exported list with the post field names of earlier exports
// (post_id, page_num, image_urls).
type JSONReport struct {
	Board       string           `json:"board"`
	Status      string           `json:"status"`
	RunID       int64            `json:"run_id,omitempty"`
	Pages       int              `json:"pages_crawled"`
	StopReason  model.StopReason `json:"stop_reason,omitempty"`
	Error       string           `json:"error,omitempty"`
	Stats       *model.Stats     `json:"stats,omitempty"`
	Posts       []model.Post     `json:"posts"`
	AllUnique   bool             `json:"all_unique"`
	DateCrawled string           `json:"date_crawled"`
}

// NewJSONReport builds the JSON document for report and its exported posts.
func NewJSONReport(report *model.CrawlReport, posts []model.Post, allUnique bool) *JSONReport {
	doc := &JSONReport{
		Board:       report.Board,
		Status:      report.Status(),
		RunID:       report.RunID,
		Pages:       report.PagesCrawled(),
		Stats:       report.Stats,
		Posts:       posts,
		AllUnique:   allUnique,
		DateCrawled: report.DateCrawled.Format("2006-01-02T15:04:05Z07:00"),
		Error:       report.ErrorMessage,
	}
	if report.Result != nil {
		doc.StopReason = report.Result.StopReason
		if doc.Error == "" {
			doc.Error = report.Result.ErrorMessage
		}
	}
	if doc.Posts == nil {
		doc.Posts = []model.Post{}
	}
	return doc
}

// Write outputs the report in JSON format.
func (w *JSONWriter) Write(report *model.CrawlReport) (int, error) {
	return w.writeJSON(NewJSONReport(report, w.posts(report), w.allPosts))
}

// WriteAll outputs several reports as one JSON array. A single report is
// written as a plain object, the same as Write.
func (w *JSONWriter) WriteAll(reports []*model.CrawlReport) (int, error) {
	if len(reports) == 1 {
		return w.Write(reports[0])
	}
	docs := make([]*JSONReport, 0, len(reports))
	for _, r := range reports {
		docs = append(docs, NewJSONReport(r, w.posts(r), w.allPosts))
	}
	return w.writeJSON(docs)
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v interface{}) (int, error) {
	var data []byte
	var err error

	if w.indentString != "" || w.indentPrefix != "" {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Add trailing newline for better terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
