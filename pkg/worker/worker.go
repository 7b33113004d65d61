package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/apiflow/internal/taskqueue"
	"github.com/petrijr/apiflow/pkg/api"
)

// Workflows resolves the workflow a task names. *engine.Registry implements it.
type Workflows interface {
	Get(name string) (api.Workflow, error)
}

// Outcome reports one processed task.
type Outcome struct {
	Task   taskqueue.Task
	Result *api.WorkflowResult
	Err    error
}

// Config tunes a Worker. Zero values select one attempt and no backoff.
type Config struct {
	// MaxAttempts bounds how often a task is tried when Run returns an error
	// other than a DefinitionError, such as a failed result save.
	MaxAttempts int
	// Backoff is waited before a failed task is put back on the queue.
	Backoff time.Duration

	// OnOutcome is called once per task that will not be tried again.
	OnOutcome func(Outcome)

	Logger *slog.Logger
}

// Worker pulls tasks from a Queue and runs them on an Engine.
type Worker struct {
	engine    api.Engine
	workflows Workflows
	queue     taskqueue.Queue
	cfg       Config
	logger    *slog.Logger
}

// New creates a Worker with default config.
func New(engine api.Engine, workflows Workflows, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, workflows, queue, Config{})
}

// NewWithConfig creates a Worker with the given config.
func NewWithConfig(engine api.Engine, workflows Workflows, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		engine:    engine,
		workflows: workflows,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
	}
}

// Enqueue schedules a run of the named workflow and returns the task ID.
// Unknown workflows are rejected here rather than by the worker.
func (w *Worker) Enqueue(ctx context.Context, workflowName string, vars map[string]any) (string, error) {
	if _, err := w.workflows.Get(workflowName); err != nil {
		return "", err
	}
	t := taskqueue.Task{
		ID:           uuid.NewString(),
		WorkflowName: workflowName,
		Vars:         vars,
		EnqueuedAt:   time.Now(),
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", workflowName, err)
	}
	return t.ID, nil
}

// ProcessOne pulls a single task from the queue and runs it.
// Returns (processed, error):
//   - processed == false: no task was obtained; err is the Dequeue error.
//   - processed == true: a task was handled; err is the run error, if any.
//
// A workflow that ran but failed is not an error; its status is in the
// result passed to OnOutcome.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	task.Attempts++
	wf, err := w.workflows.Get(task.WorkflowName)
	if err != nil {
		w.finish(Outcome{Task: *task, Err: err})
		return true, err
	}

	res, runErr := w.engine.Run(ctx, wf, task.Vars)
	if runErr != nil && w.shouldRetry(ctx, task, runErr) {
		w.logger.Warn("workflow run failed, requeueing",
			"task", task.ID, "workflow", task.WorkflowName, "attempt", task.Attempts, "error", runErr)
		if err := w.requeue(ctx, *task); err != nil {
			w.finish(Outcome{Task: *task, Result: res, Err: errors.Join(runErr, err)})
			return true, err
		}
		return true, runErr
	}

	w.finish(Outcome{Task: *task, Result: res, Err: runErr})
	return true, runErr
}

func (w *Worker) shouldRetry(ctx context.Context, task *taskqueue.Task, err error) bool {
	var defErr *api.DefinitionError
	if errors.As(err, &defErr) || ctx.Err() != nil {
		return false
	}
	return task.Attempts < w.cfg.MaxAttempts
}

func (w *Worker) requeue(ctx context.Context, t taskqueue.Task) error {
	if w.cfg.Backoff > 0 {
		timer := time.NewTimer(w.cfg.Backoff)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return w.queue.Enqueue(ctx, t)
}

func (w *Worker) finish(o Outcome) {
	attrs := []any{"task", o.Task.ID, "workflow", o.Task.WorkflowName, "attempts", o.Task.Attempts}
	switch {
	case o.Err != nil:
		w.logger.Error("task failed", append(attrs, "error", o.Err)...)
	case o.Result != nil:
		w.logger.Info("task completed", append(attrs, "run", o.Result.ID, "status", o.Result.Status)...)
	}
	if w.cfg.OnOutcome != nil {
		w.cfg.OnOutcome(o)
	}
}
