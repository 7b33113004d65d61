package apiflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner executes a batch of workflows on one Engine.
type Runner struct {
	engine Engine
	opts   RunnerOptions
}

// RunnerOptions tune a Runner. Zero values run workflows one at a time
// without extra variables.
type RunnerOptions struct {
	// MaxParallel bounds how many workflows run at once.
	MaxParallel int
	// Vars are passed to every run, over each workflow's own variables.
	Vars map[string]any
	// Tags restricts RunRegistry to workflows carrying one of them.
	Tags []string

	Logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(eng Engine, opts RunnerOptions) *Runner {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{engine: eng, opts: opts}
}

// RunAll runs every workflow and returns one result per workflow, in input
// order. A failed workflow does not stop the batch. The returned error joins
// the per-workflow errors (definition errors and failed saves); results are
// returned even when it is non-nil.
func (r *Runner) RunAll(ctx context.Context, workflows []Workflow) ([]*WorkflowResult, error) {
	results := make([]*WorkflowResult, len(workflows))
	errs := make([]error, len(workflows))

	var g errgroup.Group
	g.SetLimit(r.opts.MaxParallel)
	for i, wf := range workflows {
		g.Go(func() error {
			r.opts.Logger.Debug("workflow queued", "workflow", wf.Name)
			res, err := r.engine.Run(ctx, wf, r.opts.Vars)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("workflow %q: %w", wf.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	passed := 0
	for _, res := range results {
		if res != nil && res.Status == StatusSuccess {
			passed++
		}
	}
	r.opts.Logger.Info("batch finished", "workflows", len(workflows), "passed", passed, "failed", len(workflows)-passed)

	return results, errors.Join(errs...)
}

// RunRegistry runs the registered workflows selected by RunnerOptions.Tags,
// in registration order.
func (r *Runner) RunRegistry(ctx context.Context, reg *Registry) ([]*WorkflowResult, error) {
	return r.RunAll(ctx, reg.Select(r.opts.Tags...))
}
