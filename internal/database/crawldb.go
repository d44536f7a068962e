package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/postcrawl/internal/analysis"
	"github.com/nao1215/postcrawl/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "postcrawl.db"

// CrawlDB provides SQLite-based storage for crawl runs.
//
// One database file holds every board, so history queries and comparisons
// across runs are plain SQL.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a crawl first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer. Batch crawls share this handle, so
	// every statement is serialized through a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl of a board
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		pages INTEGER NOT NULL DEFAULT 0,
		total_posts INTEGER NOT NULL DEFAULT 0,
		unique_posts INTEGER NOT NULL DEFAULT 0,
		image_posts INTEGER NOT NULL DEFAULT 0,
		stop_reason TEXT NOT NULL,
		error TEXT,
		report_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_board ON crawl_runs(board);

	-- Unique posts of a run, in first-seen order
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		post_id TEXT NOT NULL,
		page INTEGER NOT NULL,
		author TEXT,
		upvotes INTEGER NOT NULL DEFAULT 0,
		downvotes INTEGER NOT NULL DEFAULT 0,
		image_count INTEGER NOT NULL DEFAULT 0,
		payload TEXT NOT NULL,
		UNIQUE(run_id, post_id)
	);

	CREATE INDEX IF NOT EXISTS idx_posts_run ON posts(run_id);

	-- Pages fetched during a run
	CREATE TABLE IF NOT EXISTS pages (
		run_id INTEGER NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
		page INTEGER NOT NULL,
		url TEXT NOT NULL,
		status_code INTEGER,
		post_count INTEGER NOT NULL DEFAULT 0,
		digest TEXT,
		PRIMARY KEY(run_id, page)
	);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// RunSummary describes a stored crawl run without its posts.
type RunSummary struct {
	ID          int64
	Board       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Pages       int
	TotalPosts  int
	UniquePosts int
	ImagePosts  int
	StopReason  model.StopReason
	Error       string
}

// SaveRun stores a finished crawl report and returns its run ID.
//
// The unique posts go to the posts table and the page list to the pages
// table, each page with a SHA3-256 digest of its body. The report itself
// is stored as JSON without the post lists, which are rebuilt from the
// posts table on load.
func (cdb *CrawlDB) SaveRun(ctx context.Context, report *model.CrawlReport) (int64, error) {
	if report.Result == nil {
		return 0, errors.New("report has no crawl result")
	}

	posts := report.Unique
	if posts == nil {
		posts = analysis.Deduplicate(report.AllPosts())
	}

	for i := range report.Result.Pages {
		page := &report.Result.Pages[i]
		if page.Digest == "" && page.Body != nil {
			page.Digest = Digest(page.Body)
		}
	}

	reportJSON, err := json.Marshal(storedReport(report))
	if err != nil {
		return 0, fmt.Errorf("failed to serialize report: %w", err)
	}

	imagePosts := 0
	for _, p := range posts {
		if p.HasImage() {
			imagePosts++
		}
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	result := report.Result
	res, err := tx.ExecContext(ctx, `
	INSERT INTO crawl_runs (board, started_at, finished_at, pages, total_posts, unique_posts, image_posts, stop_reason, error, report_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.Board,
		formatTimestamp(result.StartedAt),
		formatTimestamp(result.FinishedAt),
		result.PageCount(),
		len(result.Posts),
		len(posts),
		imagePosts,
		string(result.StopReason),
		result.ErrorMessage,
		string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}

	postStmt, err := tx.PrepareContext(ctx, `
	INSERT OR IGNORE INTO posts (run_id, post_id, page, author, upvotes, downvotes, image_count, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare post insert: %w", err)
	}
	defer postStmt.Close()

	for _, p := range posts {
		payload, err := json.Marshal(p)
		if err != nil {
			return 0, fmt.Errorf("failed to serialize post %s: %w", p.ID, err)
		}
		if _, err := postStmt.ExecContext(ctx, runID, p.ID, p.Page, p.Author, p.Upvotes, p.Downvotes, p.ImageCount(), string(payload)); err != nil {
			return 0, fmt.Errorf("failed to insert post %s: %w", p.ID, err)
		}
	}

	for _, page := range result.Pages {
		if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO pages (run_id, page, url, status_code, post_count, digest)
		VALUES (?, ?, ?, ?, ?, ?)
		`, runID, page.Number, page.URL, page.StatusCode, page.PostCount, page.Digest); err != nil {
			return 0, fmt.Errorf("failed to insert page %d: %w", page.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl run: %w", err)
	}

	return runID, nil
}

// storedReport returns a shallow copy of report without post lists.
func storedReport(report *model.CrawlReport) *model.CrawlReport {
	stored := *report
	stored.Unique = nil
	if report.Result != nil {
		result := *report.Result
		result.Posts = nil
		stored.Result = &result
	}
	return &stored
}

// GetRun loads a stored run. Unique is rebuilt from the posts table and
// Result.Posts is left empty. Returns nil, nil when the run doesn't exist.
func (cdb *CrawlDB) GetRun(ctx context.Context, id int64) (*model.CrawlReport, error) {
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, `SELECT report_json FROM crawl_runs WHERE id = ?`, id).Scan(&reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl run: %w", err)
	}

	return cdb.loadReport(ctx, id, reportJSON)
}

// LatestRun loads the most recent run of a board, or nil, nil when the
// board was never crawled.
func (cdb *CrawlDB) LatestRun(ctx context.Context, board string) (*model.CrawlReport, error) {
	var id int64
	var reportJSON string
	err := cdb.db.QueryRowContext(ctx, `
	SELECT id, report_json FROM crawl_runs
	WHERE board = ?
	ORDER BY id DESC
	LIMIT 1
	`, board).Scan(&id, &reportJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest crawl run: %w", err)
	}

	return cdb.loadReport(ctx, id, reportJSON)
}

func (cdb *CrawlDB) loadReport(ctx context.Context, id int64, reportJSON string) (*model.CrawlReport, error) {
	var report model.CrawlReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}

	posts, err := cdb.RunPosts(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Unique = posts
	report.RunID = id

	return &report, nil
}

// ListRuns returns run summaries, newest first. An empty board lists the
// runs of every board.
func (cdb *CrawlDB) ListRuns(ctx context.Context, board string) ([]RunSummary, error) {
	query := `
	SELECT id, board, started_at, finished_at, pages, total_posts, unique_posts, image_posts, stop_reason, error
	FROM crawl_runs
	WHERE 1=1
	`
	args := make([]interface{}, 0)

	if board != "" {
		query += " AND board = ?"
		args = append(args, board)
	}

	query += " ORDER BY id DESC"

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var run RunSummary
		var startedAt string
		var finishedAt, stopReason, errMsg sql.NullString

		if err := rows.Scan(
			&run.ID,
			&run.Board,
			&startedAt,
			&finishedAt,
			&run.Pages,
			&run.TotalPosts,
			&run.UniquePosts,
			&run.ImagePosts,
			&stopReason,
			&errMsg,
		); err != nil {
			return nil, fmt.Errorf("failed to scan crawl run: %w", err)
		}

		run.StartedAt = parseTimestamp(startedAt)
		run.FinishedAt = parseTimestamp(finishedAt.String)
		run.StopReason = model.StopReason(stopReason.String)
		run.Error = errMsg.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// ListBoards returns every crawled board, sorted.
func (cdb *CrawlDB) ListBoards(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT DISTINCT board FROM crawl_runs ORDER BY board`)
	if err != nil {
		return nil, fmt.Errorf("failed to list boards: %w", err)
	}
	defer rows.Close()

	var boards []string
	for rows.Next() {
		var board string
		if err := rows.Scan(&board); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, board)
	}

	return boards, rows.Err()
}

// RunPosts returns the unique posts of a run in first-seen order.
func (cdb *CrawlDB) RunPosts(ctx context.Context, runID int64) ([]model.Post, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT payload FROM posts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run posts: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}

		var post model.Post
		if err := json.Unmarshal([]byte(payload), &post); err != nil {
			return nil, fmt.Errorf("failed to parse post: %w", err)
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

// RunPages returns the pages fetched during a run, in order.
func (cdb *CrawlDB) RunPages(ctx context.Context, runID int64) ([]model.PageVisit, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT page, url, status_code, post_count, digest
	FROM pages
	WHERE run_id = ?
	ORDER BY page
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run pages: %w", err)
	}
	defer rows.Close()

	var pages []model.PageVisit
	for rows.Next() {
		var page model.PageVisit
		var status sql.NullInt64
		var digest sql.NullString
		if err := rows.Scan(&page.Number, &page.URL, &status, &page.PostCount, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		page.StatusCode = int(status.Int64)
		page.Digest = digest.String
		pages = append(pages, page)
	}

	return pages, rows.Err()
}

// Digest returns the hex SHA3-256 digest of a page body.
func Digest(body []byte) string {
	sum := sha3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// formatTimestamp stores times in UTC RFC 3339; the zero time is stored as "".
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",  // SQLite default datetime format
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",  // ISO 8601 without timezone
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
