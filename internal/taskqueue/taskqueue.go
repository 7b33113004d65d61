// Package taskqueue holds queued workflow runs waiting for a worker.
package taskqueue

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidTask is returned when a task without a workflow name is enqueued.
var ErrInvalidTask = errors.New("task has no workflow name")

// Task asks a worker to run one registered workflow.
type Task struct {
	ID           string
	WorkflowName string

	// Vars are run variables layered over the workflow's own variables.
	Vars map[string]any

	EnqueuedAt time.Time

	// Attempts counts how many times a worker already tried the task.
	Attempts int
}

// Queue is a FIFO of tasks shared between producers and workers.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

func validate(t Task) error {
	if t.WorkflowName == "" {
		return ErrInvalidTask
	}
	return nil
}
