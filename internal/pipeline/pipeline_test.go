package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/nao1215/postcrawl/internal/model"
)

// mockStep is a test helper that implements the Step interface.
type mockStep struct {
	name      string
	doFunc    func(ctx context.Context, report *model.CrawlReport) error
	callCount int
}

// Do implements Step.Do.
func (m *mockStep) Do(ctx context.Context, report *model.CrawlReport) error {
	m.callCount++
	if m.doFunc != nil {
		return m.doFunc(ctx, report)
	}
	return nil
}

// Name implements Step.Name.
func (m *mockStep) Name() string {
	return m.name
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestPipelineNew tests the Pipeline constructor.
func TestPipelineNew(t *testing.T) {
	t.Parallel()

	t.Run("creates pipeline with default settings", func(t *testing.T) {
		t.Parallel()

		p := New()

		if p == nil {
			t.Fatal("expected non-nil pipeline")
		}
		if p.StepCount() != 0 {
			t.Errorf("expected 0 steps, got %d", p.StepCount())
		}
		if p.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("applies WithLogger option", func(t *testing.T) {
		t.Parallel()

		logger := quietLogger()
		p := New(WithLogger(logger))

		if p.logger != logger {
			t.Error("expected custom logger")
		}
	})
}

// TestPipelineAddStep tests adding steps to the pipeline.
func TestPipelineAddStep(t *testing.T) {
	t.Parallel()

	t.Run("adds single step", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddStep(&mockStep{name: "test-step"})

		if p.StepCount() != 1 {
			t.Errorf("expected 1 step, got %d", p.StepCount())
		}
	})

	t.Run("maintains step order", func(t *testing.T) {
		t.Parallel()

		p := New()
		p.AddSteps(&mockStep{name: "first"}, &mockStep{name: "second"})
		p.AddStep(&mockStep{name: "third"})

		names := p.StepNames()

		expected := []string{"first", "second", "third"}
		if len(names) != len(expected) {
			t.Fatalf("expected %d names, got %d", len(expected), len(names))
		}
		for i, name := range names {
			if name != expected[i] {
				t.Errorf("step %d: got %q, expected %q", i, name, expected[i])
			}
		}
	})
}

// TestPipelineExecute tests pipeline execution.
func TestPipelineExecute(t *testing.T) {
	t.Parallel()

	t.Run("executes all steps in order", func(t *testing.T) {
		t.Parallel()

		executionOrder := make([]string, 0)
		record := func(name string) *mockStep {
			return &mockStep{
				name: name,
				doFunc: func(_ context.Context, _ *model.CrawlReport) error {
					executionOrder = append(executionOrder, name)
					return nil
				},
			}
		}

		p := New(WithLogger(quietLogger()))
		p.AddSteps(record("step-1"), record("step-2"))

		report := model.NewCrawlReport("https://example.itch.io/game")
		if err := p.Execute(context.Background(), report); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if strings.Join(executionOrder, ",") != "step-1,step-2" {
			t.Errorf("unexpected execution order %v", executionOrder)
		}
		if strings.Join(report.PerformedSteps, ",") != "step-1,step-2" {
			t.Errorf("unexpected performed steps %v", report.PerformedSteps)
		}
	})

	t.Run("stops on first error by default", func(t *testing.T) {
		t.Parallel()

		failing := &mockStep{
			name: "failing",
			doFunc: func(_ context.Context, _ *model.CrawlReport) error {
				return errors.New("step failed")
			},
		}
		after := &mockStep{name: "after"}

		p := New(WithLogger(quietLogger()))
		p.AddSteps(failing, after)

		report := model.NewCrawlReport("https://example.itch.io/game")
		err := p.Execute(context.Background(), report)

		if err == nil {
			t.Fatal("expected error")
		}
		if after.callCount != 0 {
			t.Errorf("expected later step to be skipped, called %d times", after.callCount)
		}
		if report.ErrorMessage != "step failed" {
			t.Errorf("expected error recorded in report, got %q", report.ErrorMessage)
		}
	})

	t.Run("names the failed step in the returned error", func(t *testing.T) {
		t.Parallel()

		errBoom := errors.New("boom")
		p := New(WithLogger(quietLogger()))
		p.AddSteps(
			&mockStep{name: "crawl"},
			&mockStep{
				name: "save",
				doFunc: func(_ context.Context, _ *model.CrawlReport) error {
					return errBoom
				},
			},
		)

		report := model.NewCrawlReport("https://example.itch.io/game")
		err := p.Execute(context.Background(), report)

		if !errors.Is(err, errBoom) {
			t.Fatalf("expected wrapped step error, got %v", err)
		}
		if err.Error() != "save: boom" {
			t.Errorf("expected step name prefix, got %q", err.Error())
		}
		if report.ErrorMessage != "boom" {
			t.Errorf("expected unprefixed error in report, got %q", report.ErrorMessage)
		}
		if len(report.PerformedSteps) != 1 || report.PerformedSteps[0] != "crawl" {
			t.Errorf("expected only crawl performed, got %v", report.PerformedSteps)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		step := &mockStep{name: "never"}
		p := New(WithLogger(quietLogger()))
		p.AddStep(step)

		report := model.NewCrawlReport("https://example.itch.io/game")
		err := p.Execute(ctx, report)

		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if step.callCount != 0 {
			t.Error("expected step not to run")
		}
		if !report.TimedOut {
			t.Error("expected report to be marked as timed out")
		}
	})

	t.Run("logs with custom logger", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

		p := New(WithLogger(logger))
		p.AddStep(&mockStep{name: "logged"})

		if err := p.Execute(context.Background(), model.NewCrawlReport("https://example.itch.io/game")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "step=logged") {
			t.Errorf("expected step name in log output, got %q", buf.String())
		}
	})
}
