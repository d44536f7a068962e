package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nao1215/postcrawl/internal/config"
	"github.com/nao1215/postcrawl/internal/database"
	"github.com/nao1215/postcrawl/internal/model"
	"github.com/spf13/cobra"
)

// timeLayout is the timestamp layout of history listings.
const timeLayout = "2006-01-02 15:04:05"

// maxDiffRows bounds the posts listed per section of a run comparison.
const maxDiffRows = 20

// digestWidth is the number of digest characters shown in page listings.
const digestWidth = 16

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [board-url]",
		Short: "List stored crawl runs and compare them",
		Long: `History lists the crawl runs kept in the crawl store.

Without a board URL every run is listed. With --compare the two latest runs
of the board are compared: posts that appeared, posts that disappeared and
posts whose votes moved. With --pages the fetched pages of one run are
listed with the SHA3-256 digest of their body, which shows the pages that
changed between runs.

Examples:
  # List every stored run
  postcrawl history

  # List the runs of one board
  postcrawl history https://internet-janitor.itch.io/wigglypaint

  # Compare the two latest runs of a board
  postcrawl history --compare https://internet-janitor.itch.io/wigglypaint

  # List the pages fetched by run 3
  postcrawl history --pages 3

  # List the boards in the crawl store
  postcrawl history --list-boards`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().BoolP("list-boards", "L", false,
		"List every board in the crawl store")
	cmd.Flags().BoolP("compare", "C", false,
		"Compare the two latest runs of the board")
	cmd.Flags().Int64("pages", 0,
		"List the pages fetched by the run with this ID")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")
	cmd.Flags().String("db-dir", config.XDGDataDir(),
		"Directory of the crawl store")

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	listBoards, err := cmd.Flags().GetBool("list-boards")
	if err != nil {
		return err
	}
	compare, err := cmd.Flags().GetBool("compare")
	if err != nil {
		return err
	}
	pagesRun, err := cmd.Flags().GetInt64("pages")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return err
	}

	// Validate arguments before opening the database.
	if compare && len(args) == 0 {
		return errors.New("board URL is required for --compare (use --list-boards to see stored boards)")
	}

	db, err := database.Open(dbDir, database.Options{EnableWAL: true})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case listBoards:
		return listStoredBoards(ctx, out, db, jsonOutput)
	case compare:
		return compareLatestRuns(ctx, out, db, args[0], jsonOutput)
	case pagesRun != 0:
		return listRunPages(ctx, out, db, pagesRun, jsonOutput)
	default:
		board := ""
		if len(args) == 1 {
			board = args[0]
		}
		return listRuns(ctx, out, db, board, jsonOutput)
	}
}

func listStoredBoards(ctx context.Context, w io.Writer, db *database.CrawlDB, jsonOutput bool) error {
	boards, err := db.ListBoards(ctx)
	if err != nil {
		return fmt.Errorf("failed to list boards: %w", err)
	}

	if jsonOutput {
		return writeJSON(w, boards)
	}

	if len(boards) == 0 {
		fmt.Fprintln(w, "No boards found in the crawl store.")
		fmt.Fprintln(w, "\nUse 'postcrawl crawl <board-url>' to crawl a board.")
		return nil
	}

	fmt.Fprintf(w, "Crawled boards (%d):\n\n", len(boards))
	for _, board := range boards {
		fmt.Fprintf(w, "  • %s\n", board)
	}
	fmt.Fprintln(w, "\nUse 'postcrawl history <board-url>' to see the runs of a board.")

	return nil
}

func listRuns(ctx context.Context, w io.Writer, db *database.CrawlDB, board string, jsonOutput bool) error {
	runs, err := db.ListRuns(ctx, board)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		return writeJSON(w, runs)
	}

	if len(runs) == 0 {
		if board != "" {
			fmt.Fprintf(w, "No runs found for %s\n", board)
		} else {
			fmt.Fprintln(w, "No runs found in the crawl store.")
		}
		fmt.Fprintln(w, "\nUse 'postcrawl crawl <board-url>' to crawl a board.")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Crawl runs (%d)", len(runs)))
	t.AppendHeader(table.Row{"ID", "Board", "Started", "Pages", "Posts", "Unique", "Images", "Stop", "Error"})
	for _, run := range runs {
		t.AppendRow(table.Row{
			run.ID,
			run.Board,
			run.StartedAt.Local().Format(timeLayout),
			run.Pages,
			run.TotalPosts,
			run.UniquePosts,
			run.ImagePosts,
			string(run.StopReason),
			run.Error,
		})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
		{Number: 9, WidthMax: 40},
	})
	fmt.Fprintln(w, t.Render())

	fmt.Fprintln(w, "\nUse 'postcrawl analyze --run <id>' to see the report of a run.")
	fmt.Fprintln(w, "Use 'postcrawl history --compare <board-url>' to compare the latest two runs.")

	return nil
}

func listRunPages(ctx context.Context, w io.Writer, db *database.CrawlDB, runID int64, jsonOutput bool) error {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	if run == nil {
		return fmt.Errorf("run %d not found (use 'postcrawl history' to list runs)", runID)
	}

	pages, err := db.RunPages(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	if pages == nil {
		pages = []model.PageVisit{}
	}

	if jsonOutput {
		return writeJSON(w, pages)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Pages of run #%d (%s)", runID, run.Board))
	t.AppendHeader(table.Row{"Page", "Status", "Posts", "Digest", "URL"})
	for _, page := range pages {
		digest := page.Digest
		if len(digest) > digestWidth {
			digest = digest[:digestWidth]
		}
		t.AppendRow(table.Row{page.Number, page.StatusCode, page.PostCount, digest, page.URL})
	}
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	fmt.Fprintln(w, t.Render())

	return nil
}

func compareLatestRuns(ctx context.Context, w io.Writer, db *database.CrawlDB, board string, jsonOutput bool) error {
	runs, err := db.ListRuns(ctx, board)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) < 2 {
		return fmt.Errorf("need at least two runs of %s to compare, found %d", board, len(runs))
	}

	// Runs are listed newest first.
	diff, err := db.ComparePosts(ctx, runs[1].ID, runs[0].ID)
	if err != nil {
		return fmt.Errorf("failed to compare runs: %w", err)
	}

	if jsonOutput {
		return writeJSON(w, diff)
	}

	outputDiffText(w, board, runs[1], runs[0], diff)
	return nil
}

// outputDiffText prints a run comparison in human-readable form.
func outputDiffText(w io.Writer, board string, oldRun, newRun database.RunSummary, diff *database.PostDiff) {
	fmt.Fprintf(w, "Comparison for %s\n", board)
	fmt.Fprintf(w, "  Old run: #%d (%s, %d unique posts)\n",
		oldRun.ID, oldRun.StartedAt.Local().Format(timeLayout), oldRun.UniquePosts)
	fmt.Fprintf(w, "  New run: #%d (%s, %d unique posts)\n\n",
		newRun.ID, newRun.StartedAt.Local().Format(timeLayout), newRun.UniquePosts)

	if !diff.HasChanges() {
		fmt.Fprintln(w, "No changes between the two runs.")
		return
	}

	fmt.Fprintf(w, "Added: %d  Removed: %d  Vote changes: %d\n",
		len(diff.Added), len(diff.Removed), len(diff.Changed))

	if len(diff.Added) > 0 {
		fmt.Fprintln(w, "\nNew posts:")
		for i, p := range diff.Added {
			if i == maxDiffRows {
				fmt.Fprintf(w, "  ... and %d more\n", len(diff.Added)-maxDiffRows)
				break
			}
			fmt.Fprintf(w, "  + %s by %s (+%d/-%d, %d images)\n",
				p.ID, p.Author, p.Upvotes, p.Downvotes, p.ImageCount())
		}
	}

	if len(diff.Removed) > 0 {
		fmt.Fprintln(w, "\nRemoved posts:")
		for i, p := range diff.Removed {
			if i == maxDiffRows {
				fmt.Fprintf(w, "  ... and %d more\n", len(diff.Removed)-maxDiffRows)
				break
			}
			fmt.Fprintf(w, "  - %s by %s\n", p.ID, p.Author)
		}
	}

	if len(diff.Changed) > 0 {
		fmt.Fprintln(w, "\nVote changes:")
		for i, c := range diff.Changed {
			if i == maxDiffRows {
				fmt.Fprintf(w, "  ... and %d more\n", len(diff.Changed)-maxDiffRows)
				break
			}
			fmt.Fprintf(w, "  ~ %s by %s: +%d/-%d -> +%d/-%d (%s)\n",
				c.Post.ID, c.Post.Author,
				c.OldUpvotes, c.OldDownvotes,
				c.Post.Upvotes, c.Post.Downvotes,
				formatDelta(c.UpvoteDelta()))
		}
	}
}

// formatDelta formats an upvote change with a sign.
func formatDelta(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("+%d", delta)
	}
	return fmt.Sprintf("%d", delta)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
