package engine

import (
	"context"
	"log/slog"

	"github.com/petrijr/apiflow/internal/persistence"
	"github.com/petrijr/apiflow/pkg/api"
)

// eventRecorder appends run history. Append failures are logged and never
// affect a run.
type eventRecorder struct {
	store  persistence.EventStore
	run    api.RunInfo
	clock  api.Clock
	logger *slog.Logger
}

func (r eventRecorder) record(ctx context.Context, typ api.EventType, phase api.Phase, step, detail string) {
	if r.store == nil {
		return
	}
	err := r.store.AppendEvent(context.WithoutCancel(ctx), api.RunEvent{
		RunID:    r.run.ID,
		At:       r.clock.Now(),
		Type:     typ,
		Workflow: r.run.Workflow,
		Phase:    phase,
		Step:     step,
		Detail:   detail,
	})
	if err != nil && r.logger != nil {
		r.logger.Debug("append run event failed",
			"run_id", r.run.ID, "workflow", r.run.Workflow, "event", string(typ), "error", err)
	}
}
