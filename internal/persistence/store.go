package persistence

import (
	"context"
	"errors"
	"slices"

	"github.com/petrijr/apiflow/pkg/api"
)

// ErrResultNotFound is returned when no result is stored under a run ID.
var ErrResultNotFound = errors.New("result not found")

// ResultStore handles storage of finished workflow results.
type ResultStore interface {
	// SaveResult stores res under res.ID, replacing any earlier result.
	SaveResult(ctx context.Context, res *api.WorkflowResult) error
	GetResult(ctx context.Context, id string) (*api.WorkflowResult, error)
	// ListResults returns matching results, oldest first.
	ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error)
}

func matches(res *api.WorkflowResult, opts api.ResultListOptions) bool {
	if opts.WorkflowName != "" && res.Name != opts.WorkflowName {
		return false
	}
	if opts.Status != "" && res.Status != opts.Status {
		return false
	}
	return true
}

// sortByStart orders results by start time, then ID.
func sortByStart(out []*api.WorkflowResult) {
	slices.SortStableFunc(out, func(a, b *api.WorkflowResult) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
