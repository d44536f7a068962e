package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/postcrawl/internal/model"
)

// Step defines the interface that all pipeline steps must implement.
// Steps are executed in sequence, each one reading what earlier steps left
// in the report and adding its own part.
type Step interface {
	// Do executes the step against the report.
	// A returned error is recorded in the report; outcomes that are not
	// failures of the step itself (such as a partial crawl) are recorded
	// in the report and return nil.
	Do(ctx context.Context, report *model.CrawlReport) error

	// Name returns the step's name for logging purposes.
	Name() string
}

// Pipeline orchestrates the execution of multiple steps for one board.
type Pipeline struct {
	// steps contains the ordered list of steps to execute.
	steps []Step

	logger *slog.Logger
}

// Option is a function that configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new Pipeline with the given options.
// Steps should be added using AddStep after creation.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		steps: make([]Step, 0),
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.logger == nil {
		p.logger = slog.Default()
	}

	return p
}

// AddStep appends a step to the pipeline.
// Steps are executed in the order they are added.
func (p *Pipeline) AddStep(step Step) {
	p.steps = append(p.steps, step)
}

// AddSteps appends multiple steps to the pipeline.
func (p *Pipeline) AddSteps(steps ...Step) {
	p.steps = append(p.steps, steps...)
}

// Execute runs all pipeline steps in sequence and stops at the first step
// that fails. Later steps read what earlier ones produced, so a failed crawl
// leaves nothing to rank or store.
//
// The context is checked before each step; a step that is already running
// handles cancellation itself. A cancelled pipeline marks the report as
// timed out and returns the context error.
//
// The failed step's error is recorded in the report as is and returned
// prefixed with the step name.
func (p *Pipeline) Execute(ctx context.Context, report *model.CrawlReport) error {
	for _, step := range p.steps {
		name := step.Name()

		if err := ctx.Err(); err != nil {
			p.logger.Warn("pipeline cancelled",
				"step", name,
				"performed", report.PerformedSteps,
				"reason", err,
			)
			report.TimedOut = true
			return err
		}

		p.logger.Debug("executing step", "step", name, "board", report.Board)

		start := time.Now()
		if err := step.Do(ctx, report); err != nil {
			p.logger.Error("step failed",
				"step", name,
				"board", report.Board,
				"elapsed", time.Since(start),
				"error", err,
			)
			report.Err = err
			report.ErrorMessage = err.Error()
			return fmt.Errorf("%s: %w", name, err)
		}

		p.logger.Debug("step completed",
			"step", name,
			"board", report.Board,
			"elapsed", time.Since(start),
		)
		report.PerformedSteps = append(report.PerformedSteps, name)
	}

	return nil
}

// StepCount returns the number of steps in the pipeline.
func (p *Pipeline) StepCount() int {
	return len(p.steps)
}

// StepNames returns the names of all steps in execution order.
func (p *Pipeline) StepNames() []string {
	names := make([]string, len(p.steps))
	for i, step := range p.steps {
		names[i] = step.Name()
	}
	return names
}
