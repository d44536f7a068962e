package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nao1215/postcrawl/internal/model"
)

type fakeCrawler struct {
	result *model.CrawlResult
	err    error
	seeds  []string
}

func (f *fakeCrawler) Crawl(_ context.Context, seed string) (*model.CrawlResult, error) {
	f.seeds = append(f.seeds, seed)
	return f.result, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	reports []*model.CrawlReport
	err     error
}

func (f *fakeStore) SaveRun(_ context.Context, report *model.CrawlReport) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.reports = append(f.reports, report)
	return int64(len(f.reports)), nil
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func postIDs(posts []model.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func withImage(id string, upvotes int) model.Post {
	return model.Post{ID: id, Upvotes: upvotes, ImageURLs: []string{"https://img.itch.zone/" + id + ".gif"}}
}

func TestCrawlStep(t *testing.T) {
	t.Parallel()

	t.Run("stores result and closes resources", func(t *testing.T) {
		t.Parallel()

		fc := &fakeCrawler{result: &model.CrawlResult{
			Posts:      []model.Post{{ID: "a"}},
			StopReason: model.StopEndOfChain,
		}}
		closer := &closeRecorder{}
		step := NewCrawlStep(fc, WithCrawlCloser(closer), WithCrawlLogger(quietLogger()))

		report := model.NewCrawlReport("https://example.itch.io/game")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Result != fc.result {
			t.Error("expected crawl result stored in report")
		}
		if diff := cmp.Diff([]string{"https://example.itch.io/game"}, fc.seeds); diff != "" {
			t.Errorf("seeds mismatch (-want +got):\n%s", diff)
		}
		if !closer.closed {
			t.Error("expected closer to be closed")
		}
		if step.Name() != "crawl" {
			t.Errorf("unexpected name %q", step.Name())
		}
	})

	t.Run("partial crawl is not a step failure", func(t *testing.T) {
		t.Parallel()

		result := &model.CrawlResult{Posts: []model.Post{{ID: "a"}}}
		result.SetError(model.StopFetchError, errors.New("502"))
		step := NewCrawlStep(&fakeCrawler{result: result}, WithCrawlLogger(quietLogger()))

		report := model.NewCrawlReport("https://example.itch.io/game")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Status() != "partial (fetch_error)" {
			t.Errorf("unexpected status %q", report.Status())
		}
	})

	t.Run("cancelled crawl marks report", func(t *testing.T) {
		t.Parallel()

		result := &model.CrawlResult{}
		result.SetError(model.StopCancelled, context.Canceled)
		step := NewCrawlStep(&fakeCrawler{result: result}, WithCrawlLogger(quietLogger()))

		report := model.NewCrawlReport("https://example.itch.io/game")
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !report.TimedOut {
			t.Error("expected report to be marked as timed out")
		}
	})

	t.Run("invalid input fails the step", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("seed reference must not be empty")
		closer := &closeRecorder{}
		step := NewCrawlStep(&fakeCrawler{err: cause}, WithCrawlCloser(closer), WithCrawlLogger(quietLogger()))

		err := step.Do(context.Background(), model.NewCrawlReport(""))
		if !errors.Is(err, cause) {
			t.Errorf("expected wrapped cause, got %v", err)
		}
		if !closer.closed {
			t.Error("expected closer to be closed on failure")
		}
	})
}

func TestPostProcessingSteps(t *testing.T) {
	t.Parallel()

	report := model.NewCrawlReport("https://example.itch.io/game")
	report.Result = &model.CrawlResult{
		Posts: []model.Post{
			withImage("a", 2),
			{ID: "b", Upvotes: 50},
			withImage("c", 7),
			withImage("a", 99),
			withImage("d", 4),
		},
	}

	steps := []Step{NewDedupeStep(), NewRankStep(2), NewSummaryStep()}
	for _, step := range steps {
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("%s: unexpected error: %v", step.Name(), err)
		}
	}

	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, postIDs(report.Unique)); diff != "" {
		t.Errorf("unique mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c", "d"}, postIDs(report.Ranked)); diff != "" {
		t.Errorf("ranked mismatch (-want +got):\n%s", diff)
	}
	if report.Stats == nil {
		t.Fatal("expected stats")
	}
	if report.Stats.TotalScraped != 5 || report.Stats.Unique != 4 || report.Stats.WithImages != 3 {
		t.Errorf("unexpected stats %+v", report.Stats)
	}
}

func TestSaveStep(t *testing.T) {
	t.Parallel()

	t.Run("records run id", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		report := model.NewCrawlReport("https://example.itch.io/game")
		report.Result = &model.CrawlResult{}

		if err := NewSaveStep(store, quietLogger()).Do(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.RunID != 1 {
			t.Errorf("expected run id 1, got %d", report.RunID)
		}
	})

	t.Run("skips reports without a crawl", func(t *testing.T) {
		t.Parallel()

		store := &fakeStore{}
		if err := NewSaveStep(store, quietLogger()).Do(context.Background(), model.NewCrawlReport("x")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(store.reports) != 0 {
			t.Errorf("expected nothing saved, got %d", len(store.reports))
		}
	})

	t.Run("wraps store errors", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("disk full")
		report := model.NewCrawlReport("x")
		report.Result = &model.CrawlResult{}

		err := NewSaveStep(&fakeStore{err: cause}, quietLogger()).Do(context.Background(), report)
		if !errors.Is(err, cause) {
			t.Errorf("expected wrapped cause, got %v", err)
		}
	})
}

// boardServer serves a two-page community board.
func boardServer(t *testing.T) *httptest.Server {
	t.Helper()

	post := func(id string, upvotes int, img bool) string {
		var b strings.Builder
		fmt.Fprintf(&b, `<div class="community_post" id="%s">`, id)
		fmt.Fprintf(&b, `<a href="https://itch.io/profile/%s-author">%s-author</a>`, id, id)
		fmt.Fprintf(&b, `<div class="post_body"><p>Post body of %s</p>`, id)
		if img {
			fmt.Fprintf(&b, `<img src="https://img.itch.zone/%s.gif">`, id)
		}
		fmt.Fprintf(&b, `</div><span class="upvotes">(+%d)</span></div>`, upvotes)
		return b.String()
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("before") {
		case "":
			fmt.Fprint(w, "<html><body>",
				post("post-1", 3, true),
				post("post-2", 8, true),
				`<a href="/game?before=100">Next page</a>`,
				"</body></html>")
		case "100":
			fmt.Fprint(w, "<html><body>",
				post("post-2", 8, true),
				post("post-3", 20, false),
				"</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestDefaultPipeline(t *testing.T) {
	t.Parallel()

	t.Run("builds standard steps", func(t *testing.T) {
		t.Parallel()

		p := DefaultPipeline(nil, WithPipelineLogger(quietLogger()))
		want := []string{"crawl", "dedupe", "rank", "summary"}
		if diff := cmp.Diff(want, p.StepNames()); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}

		p = DefaultPipeline(nil, WithPipelineStore(&fakeStore{}), WithPipelineLogger(quietLogger()))
		if p.StepNames()[p.StepCount()-1] != "save" {
			t.Errorf("expected save as last step, got %v", p.StepNames())
		}
	})

	t.Run("crawls a board end to end", func(t *testing.T) {
		t.Parallel()

		server := boardServer(t)
		defer server.Close()

		store := &fakeStore{}
		var visited []int
		p := DefaultPipeline(nil,
			WithPipelineDelay(0),
			WithPipelineMaxPages(10),
			WithPipelineTop(10),
			WithPipelineStore(store),
			WithPipelineOnPage(func(v model.PageVisit) {
				visited = append(visited, v.Number)
			}),
			WithPipelineLogger(quietLogger()),
		)

		report := model.NewCrawlReport(server.URL + "/game")
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if report.PagesCrawled() != 2 {
			t.Errorf("expected 2 pages, got %d", report.PagesCrawled())
		}
		if diff := cmp.Diff([]int{1, 2}, visited); diff != "" {
			t.Errorf("page hook mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"post-1", "post-2", "post-2", "post-3"}, postIDs(report.AllPosts())); diff != "" {
			t.Errorf("raw posts mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"post-1", "post-2", "post-3"}, postIDs(report.Unique)); diff != "" {
			t.Errorf("unique mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"post-2", "post-1"}, postIDs(report.Ranked)); diff != "" {
			t.Errorf("ranked mismatch (-want +got):\n%s", diff)
		}
		if report.Status() != "complete (end_of_chain)" {
			t.Errorf("unexpected status %q", report.Status())
		}
		if report.RunID != 1 || len(store.reports) != 1 {
			t.Errorf("expected report saved once, run id %d", report.RunID)
		}
		if report.Unique[0].Author != "post-1-author" {
			t.Errorf("unexpected author %q", report.Unique[0].Author)
		}
	})
}
