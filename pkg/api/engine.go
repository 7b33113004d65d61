package api

import (
	"context"
)

// Engine is the high-level engine API. Runs are synchronous: Run returns when
// teardown has finished.
type Engine interface {
	// Run executes a workflow to completion. The returned result is always
	// non-nil. err is non-nil only for a DefinitionError (the run never
	// started its main steps) or when the result could not be persisted.
	Run(ctx context.Context, wf Workflow, vars map[string]any) (*WorkflowResult, error)

	// Plan validates the workflow and returns its execution plan without
	// running anything.
	Plan(wf Workflow) (*ExecutionPlan, error)

	// GetResult looks up a stored workflow result by run ID.
	GetResult(ctx context.Context, id string) (*WorkflowResult, error)

	// ListResults returns stored results matching opts.
	ListResults(ctx context.Context, opts ResultListOptions) ([]*WorkflowResult, error)

	// ListEvents returns the recorded history of a run.
	ListEvents(ctx context.Context, runID string) ([]RunEvent, error)
}
