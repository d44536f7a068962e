package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nao1215/postcrawl/internal/config"
	"github.com/nao1215/postcrawl/internal/model"
	"github.com/nao1215/postcrawl/internal/report"
)

// testBoard serves a two-page community board. Every request for the first
// page starts a new round; the second round edits the board so that runs
// can be compared:
//   - round 1: post-1 (+5/-1, image), post-2 (+2, no image) | post-2, post-3 (+3, two images)
//   - round 2: post-1 (+9/-1, image) | post-3, post-4 (+1, image)
type testBoard struct {
	server *httptest.Server
	round  atomic.Int32

	// failSecondPage makes the second page answer 500.
	failSecondPage bool
}

func newTestBoard(t *testing.T, failSecondPage bool) *testBoard {
	t.Helper()

	b := &testBoard{failSecondPage: failSecondPage}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *testBoard) URL() string {
	return b.server.URL + "/board"
}

func (b *testBoard) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/board" {
		http.NotFound(w, r)
		return
	}

	var body strings.Builder
	body.WriteString("<!DOCTYPE html><html><body>\n")

	if r.URL.Query().Get("before") == "" {
		round := b.round.Add(1)
		if round == 1 {
			body.WriteString(testPost("post-1", "alice", 5, 1, "img.itch.zone/a.png"))
			body.WriteString(testPost("post-2", "bob", 2, 0))
		} else {
			body.WriteString(testPost("post-1", "alice", 9, 1, "img.itch.zone/a.png"))
		}
		body.WriteString(`<div class="pager"><a href="/board?before=2">Next page</a></div>`)
	} else {
		if b.failSecondPage {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		if b.round.Load() == 1 {
			body.WriteString(testPost("post-2", "bob", 2, 0))
		}
		body.WriteString(testPost("post-3", "carol", 3, 0, "img.itch.zone/b.png", "img.itch.zone/c.png"))
		if b.round.Load() > 1 {
			body.WriteString(testPost("post-4", "dave", 1, 0, "img.itch.zone/d.png"))
		}
	}

	body.WriteString("</body></html>")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, body.String())
}

func testPost(id, author string, up, down int, images ...string) string {
	var imgs strings.Builder
	for _, img := range images {
		fmt.Fprintf(&imgs, `<img src="https://%s">`, img)
	}
	return fmt.Sprintf(`<div class="community_post" id="%s">
  <a href="https://itch.io/profile/%s">%s</a>
  <div class="post_body"><p>Drawing by %s</p>%s</div>
  <span class="upvotes">(+%d)</span><span class="downvotes">(-%d)</span>
</div>
`, id, author, author, author, imgs.String(), up, down)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type nopSaver struct{}

func (nopSaver) SaveRun(context.Context, *model.CrawlReport) (int64, error) {
	return 1, nil
}

// runCommand executes a fresh root command with args and returns stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	stdout, _, err := runCommandOutputs(t, args...)
	return stdout, err
}

// runCommandOutputs is runCommand returning stderr as well.
func runCommandOutputs(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var stdout bytes.Buffer
	var stderr syncBuffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// syncBuffer collects stderr, which logs and page progress write to from
// several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "boards.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func decodeJSONReport(t *testing.T, s string) report.JSONReport {
	t.Helper()

	var doc report.JSONReport
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("failed to decode JSON report: %v\n%s", err, s)
	}
	return doc
}

func postIDs(posts []model.Post) []string {
	ids := make([]string, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{name: "max-pages", shorthand: "p", defValue: "100"},
		{name: "delay", shorthand: "d", defValue: "1.5s"},
		{name: "timeout", shorthand: "t", defValue: "15s"},
		{name: "retries", shorthand: "r", defValue: "1"},
		{name: "top", shorthand: "n", defValue: "100"},
		{name: "batch", shorthand: "b", defValue: "4"},
		{name: "config", shorthand: "c", defValue: ""},
		{name: "format", shorthand: "f", defValue: "table"},
		{name: "output", shorthand: "o", defValue: ""},
		{name: "tee", defValue: "false"},
		{name: "all", defValue: "false"},
		{name: "no-db", defValue: "false"},
		{name: "keep-going", defValue: "false"},
		{name: "rate-limit", defValue: "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, args ...string) (*config.Config, error) {
		t.Helper()
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags(args); err != nil {
			t.Fatalf("failed to parse flags: %v", err)
		}
		return buildConfig(cmd, cmd.Flags().Args())
	}

	t.Run("flags override defaults", func(t *testing.T) {
		t.Parallel()

		path := writeTestConfig(t, "defaults:\n  maxPages: 7\n")
		cfg, err := parse(t,
			"-p", "3", "-d", "0s", "-t", "5s", "-r", "2", "-n", "10", "-b", "1",
			"-f", "json", "-o", "out.json", "--tee", "--all", "--no-db", "--keep-going",
			"--rate-limit", "250ms", "--user-agent", "postcrawl-test",
			"-c", path, "https://example.itch.io/game",
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := &config.Config{
			Boards:           []string{"https://example.itch.io/game"},
			MaxPages:         3,
			MaxPagesExplicit: true,
			Delay:            0,
			DelayExplicit:    true,
			StopOnEmptyPage:  false,
			Timeout:          5 * time.Second,
			Retries:          2,
			RateLimit:        250 * time.Millisecond,
			UserAgent:        "postcrawl-test",
			Top:              10,
			BatchSize:        1,
			Format:           "json",
			ReportFile:       "out.json",
			Tee:              true,
			AllPosts:         true,
			ConfigFilePath:   path,
			BoardConfigs:     &config.File{Boards: map[string]config.BoardConfig{}, Defaults: config.BoardConfig{MaxPages: 7}},
			DBDir:            config.XDGDataDir(),
			SaveToDB:         false,
		}
		if diff := cmp.Diff(want, cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("explicit missing config file", func(t *testing.T) {
		t.Parallel()

		_, err := parse(t, "-c", filepath.Join(t.TempDir(), "missing.yaml"), "https://example.itch.io/game")
		if err == nil || !strings.Contains(err.Error(), "configuration file not found") {
			t.Errorf("expected not found error, got %v", err)
		}
	})

	t.Run("invalid config file", func(t *testing.T) {
		t.Parallel()

		_, err := parse(t, "-c", writeTestConfig(t, "boards: [unclosed"), "https://example.itch.io/game")
		if err == nil || !strings.Contains(err.Error(), "failed to load config file") {
			t.Errorf("expected load error, got %v", err)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		_, err := parse(t, "-f", "xml", "https://example.itch.io/game")
		if err == nil {
			t.Error("expected error for unknown format")
		}
	})
}

func TestCreatePipelineForBoard(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	logger := quietLogger()

	t.Run("without store", func(t *testing.T) {
		t.Parallel()

		p := createPipelineForBoard(cfg, "https://example.itch.io/game", nil, nil, logger)
		want := []string{"crawl", "dedupe", "rank", "summary"}
		if diff := cmp.Diff(want, p.StepNames()); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("with store", func(t *testing.T) {
		t.Parallel()

		p := createPipelineForBoard(cfg, "https://example.itch.io/game", nopSaver{}, nil, logger)
		names := p.StepNames()
		if names[len(names)-1] != "save" {
			t.Errorf("expected save as last step, got %v", names)
		}
	})
}

func TestRunCrawlCmd(t *testing.T) {
	t.Run("rejects invalid configuration", func(t *testing.T) {
		_, err := runCommand(t, "crawl", "--no-db", "-p", "0", "https://example.itch.io/game")
		if err == nil || !strings.Contains(err.Error(), "configuration error") {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("requires a board", func(t *testing.T) {
		_, err := runCommand(t, "crawl", "--no-db")
		if err == nil {
			t.Error("expected error without boards")
		}
	})

	t.Run("crawls every page and ranks posts with images", func(t *testing.T) {
		board := newTestBoard(t, false)

		out, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "json", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		doc := decodeJSONReport(t, out)
		if doc.Board != board.URL() {
			t.Errorf("expected board %q, got %q", board.URL(), doc.Board)
		}
		if doc.Pages != 2 {
			t.Errorf("expected 2 pages, got %d", doc.Pages)
		}
		if doc.StopReason != model.StopEndOfChain {
			t.Errorf("expected end_of_chain, got %q", doc.StopReason)
		}
		if doc.RunID != 0 {
			t.Errorf("expected no run ID without store, got %d", doc.RunID)
		}
		if diff := cmp.Diff([]string{"post-1", "post-3"}, postIDs(doc.Posts)); diff != "" {
			t.Errorf("ranked posts mismatch (-want +got):\n%s", diff)
		}
		if doc.Stats == nil || doc.Stats.TotalScraped != 4 || doc.Stats.Unique != 3 {
			t.Errorf("unexpected stats: %+v", doc.Stats)
		}
	})

	t.Run("fetch error keeps the partial result", func(t *testing.T) {
		board := newTestBoard(t, true)

		out, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "json", "--all", board.URL())
		if err != nil {
			t.Fatalf("partial crawl should succeed, got %v", err)
		}

		doc := decodeJSONReport(t, out)
		if doc.StopReason != model.StopFetchError {
			t.Errorf("expected fetch_error, got %q", doc.StopReason)
		}
		if !strings.HasPrefix(doc.Status, "partial") {
			t.Errorf("expected partial status, got %q", doc.Status)
		}
		if diff := cmp.Diff([]string{"post-1", "post-2"}, postIDs(doc.Posts)); diff != "" {
			t.Errorf("posts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("writes the report file and stores the run", func(t *testing.T) {
		board := newTestBoard(t, false)
		dir := t.TempDir()
		reportPath := filepath.Join(dir, "reports", "posts.csv")

		out, err := runCommand(t, "crawl", "--db-dir", dir, "-d", "0s", "-f", "csv", "--all", "-o", reportPath, board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "" {
			t.Errorf("expected nothing on stdout, got %q", out)
		}

		f, err := os.Open(reportPath)
		if err != nil {
			t.Fatalf("report file not written: %v", err)
		}
		defer f.Close()

		posts, err := report.ReadCSV(f)
		if err != nil {
			t.Fatalf("failed to read report: %v", err)
		}
		if diff := cmp.Diff([]string{"post-1", "post-2", "post-3"}, postIDs(posts)); diff != "" {
			t.Errorf("csv posts mismatch (-want +got):\n%s", diff)
		}

		if _, err := os.Stat(filepath.Join(dir, "postcrawl.db")); err != nil {
			t.Errorf("expected crawl store in %s: %v", dir, err)
		}
	})
}

func TestRunCrawlCmdSeveralBoards(t *testing.T) {
	t.Run("csv export has one header and reads back", func(t *testing.T) {
		first, second := newTestBoard(t, false), newTestBoard(t, false)
		reportPath := filepath.Join(t.TempDir(), "posts.csv")

		_, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "csv", "--all", "-o", reportPath,
			first.URL(), second.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		f, err := os.Open(reportPath)
		if err != nil {
			t.Fatalf("report file not written: %v", err)
		}
		defer f.Close()

		posts, err := report.ReadCSV(f)
		if err != nil {
			t.Fatalf("combined export not readable: %v", err)
		}
		want := []string{"post-1", "post-2", "post-3", "post-1", "post-2", "post-3"}
		if diff := cmp.Diff(want, postIDs(posts)); diff != "" {
			t.Errorf("csv posts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("csv export feeds analyze", func(t *testing.T) {
		first, second := newTestBoard(t, false), newTestBoard(t, false)
		reportPath := filepath.Join(t.TempDir(), "posts.csv")

		if _, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "csv", "--all", "-o", reportPath,
			first.URL(), second.URL()); err != nil {
			t.Fatalf("crawl failed: %v", err)
		}

		out, err := runCommand(t, "analyze", "--csv", reportPath, "-f", "json")
		if err != nil {
			t.Fatalf("analyze failed: %v", err)
		}
		doc := decodeJSONReport(t, out)
		if doc.Stats == nil || doc.Stats.TotalScraped != 6 || doc.Stats.Unique != 3 {
			t.Errorf("unexpected stats: %+v", doc.Stats)
		}
	})

	t.Run("json output is one array", func(t *testing.T) {
		first, second := newTestBoard(t, false), newTestBoard(t, false)

		out, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "json", first.URL(), second.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var docs []report.JSONReport
		if err := json.Unmarshal([]byte(out), &docs); err != nil {
			t.Fatalf("combined JSON not decodable: %v\n%s", err, out)
		}
		if len(docs) != 2 {
			t.Fatalf("expected 2 reports, got %d", len(docs))
		}
		for i, board := range []string{first.URL(), second.URL()} {
			if docs[i].Board != board {
				t.Errorf("report %d: expected board %q, got %q", i, board, docs[i].Board)
			}
			if diff := cmp.Diff([]string{"post-1", "post-3"}, postIDs(docs[i].Posts)); diff != "" {
				t.Errorf("report %d posts mismatch (-want +got):\n%s", i, diff)
			}
		}
	})

	t.Run("tee prints a table next to the file", func(t *testing.T) {
		board := newTestBoard(t, false)
		reportPath := filepath.Join(t.TempDir(), "posts.json")

		out, err := runCommand(t, "crawl", "--no-db", "-d", "0s", "-f", "json", "-o", reportPath, "--tee", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Board Crawl Report") {
			t.Errorf("expected a table on stdout, got %q", out)
		}

		data, err := os.ReadFile(reportPath)
		if err != nil {
			t.Fatalf("report file not written: %v", err)
		}
		if doc := decodeJSONReport(t, string(data)); doc.Board != board.URL() {
			t.Errorf("expected board %q in file, got %q", board.URL(), doc.Board)
		}
	})
}

func TestRunCrawlCmdProgressAndLogs(t *testing.T) {
	t.Run("prints a line per page", func(t *testing.T) {
		board := newTestBoard(t, false)

		_, stderr, err := runCommandOutputs(t, "crawl", "--no-db", "-d", "0s", "-f", "json", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, want := range []string{
			board.URL() + ": page 1, 2 posts",
			board.URL() + ": page 2, 2 posts",
			"[1/1] " + board.URL(),
		} {
			if !strings.Contains(stderr, want) {
				t.Errorf("expected progress %q, got:\n%s", want, stderr)
			}
		}
	})

	t.Run("json log format", func(t *testing.T) {
		board := newTestBoard(t, false)

		_, stderr, err := runCommandOutputs(t, "crawl", "--no-db", "-d", "0s", "-f", "json", "--log-format", "json", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(stderr, `"msg":"starting crawl"`) {
			t.Errorf("expected JSON log records, got:\n%s", stderr)
		}
	})

	t.Run("unknown log format", func(t *testing.T) {
		_, err := runCommand(t, "crawl", "--no-db", "--log-format", "xml", "https://example.itch.io/game")
		if err == nil || !strings.Contains(err.Error(), "unknown log format") {
			t.Errorf("expected log format error, got %v", err)
		}
	})
}

func TestRunCrawlCmdConfigPrecedence(t *testing.T) {
	t.Run("config file replaces flag defaults", func(t *testing.T) {
		board := newTestBoard(t, false)
		path := writeTestConfig(t, "defaults:\n  maxPages: 1\n  delay: 0s\n")

		out, err := runCommand(t, "crawl", "--no-db", "-c", path, "-f", "json", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		doc := decodeJSONReport(t, out)
		if doc.Pages != 1 || doc.StopReason != model.StopMaxPages {
			t.Errorf("expected one page and max_pages, got %d pages and %q", doc.Pages, doc.StopReason)
		}
	})

	t.Run("explicit flags win over the config file", func(t *testing.T) {
		board := newTestBoard(t, false)
		path := writeTestConfig(t, "defaults:\n  maxPages: 1\n  delay: 10s\n")

		start := time.Now()
		out, err := runCommand(t, "crawl", "--no-db", "-c", path, "-p", "5", "-d", "0s", "-f", "json", board.URL())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("expected --delay 0s to win over the file delay, took %s", elapsed)
		}
		doc := decodeJSONReport(t, out)
		if doc.Pages != 2 || doc.StopReason != model.StopEndOfChain {
			t.Errorf("expected two pages and end_of_chain, got %d pages and %q", doc.Pages, doc.StopReason)
		}
	})
}
