package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RunInfo identifies a workflow run to observers.
type RunInfo struct {
	ID       string
	Workflow string
	Started  time.Time
}

// Observer receives callbacks from the workflow engine for logging and metrics.
//
// Implementations should be fast and non-blocking; parallel steps invoke the
// step callbacks from multiple goroutines.
type Observer interface {
	// OnWorkflowStart is called once per run before any setup step.
	OnWorkflowStart(ctx context.Context, run RunInfo)

	// OnWorkflowCompleted is called once per run after teardown, whatever the
	// outcome.
	OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult)

	// OnStepStart is called before a step's condition is evaluated.
	OnStepStart(ctx context.Context, run RunInfo, phase Phase, step string)

	// OnAttempt is called after every request/validate cycle.
	OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt)

	// OnStepCompleted is called once per step with its final result.
	OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStart(ctx context.Context, run RunInfo) {}
func (NoopObserver) OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult) {
}
func (NoopObserver) OnStepStart(ctx context.Context, run RunInfo, phase Phase, step string) {}
func (NoopObserver) OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult)        {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStart(ctx context.Context, run RunInfo) {
	for _, o := range c.observers {
		o.OnWorkflowStart(ctx, run)
	}
}

func (c *CompositeObserver) OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult) {
	for _, o := range c.observers {
		o.OnWorkflowCompleted(ctx, run, res)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run RunInfo, phase Phase, step string) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, phase, step)
	}
}

func (c *CompositeObserver) OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt) {
	for _, o := range c.observers {
		o.OnAttempt(ctx, run, step, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, res)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStart(ctx context.Context, run RunInfo) {
	o.Logger.InfoContext(ctx, "workflow_start",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.ID),
	)
}

func (o *LoggingObserver) OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult) {
	level := slog.LevelInfo
	if res.Status != StatusSuccess {
		level = slog.LevelError
	}
	sum := res.Summary()
	o.Logger.Log(ctx, level, "workflow_completed",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.ID),
		slog.String("status", string(res.Status)),
		slog.Int("passed", sum.Passed),
		slog.Int("failed", sum.Failed),
		slog.Int("skipped", sum.Skipped),
		slog.Duration("duration", res.Duration),
		slog.String("error", res.Error),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run RunInfo, phase Phase, step string) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.ID),
		slog.String("phase", string(phase)),
		slog.String("step", step),
	)
}

func (o *LoggingObserver) OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt) {
	o.Logger.DebugContext(ctx, "step_attempt",
		slog.String("run_id", run.ID),
		slog.String("step", step),
		slog.Int("iteration", attempt.Iteration),
		slog.Int("poll", attempt.Poll),
		slog.Int("status_code", attempt.StatusCode),
		slog.Bool("passed", attempt.Validation.Passed),
		slog.String("error", attempt.Error),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult) {
	level := slog.LevelDebug
	switch {
	case res.Status.IsFailure() && res.Ignored:
		level = slog.LevelWarn
	case res.Status.IsFailure():
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", run.Workflow),
		slog.String("run_id", run.ID),
		slog.String("phase", string(res.Phase)),
		slog.String("step", res.Name),
		slog.String("status", string(res.Status)),
		slog.Int("attempts", len(res.Attempts)),
		slog.Duration("duration", res.Duration),
		slog.String("error", res.Error),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted   atomic.Int64
	workflowsSucceeded atomic.Int64
	workflowsFailed    atomic.Int64
	stepsSucceeded     atomic.Int64
	stepsFailed        atomic.Int64
	stepsSkipped       atomic.Int64
	attempts           atomic.Int64
	totalStepDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted   int64
	WorkflowsSucceeded int64
	WorkflowsFailed    int64
	RunningWorkflows   int64

	StepsSucceeded  int64
	StepsFailed     int64
	StepsSkipped    int64
	Attempts        int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStart(ctx context.Context, run RunInfo) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult) {
	if res.Status == StatusSuccess {
		m.workflowsSucceeded.Add(1)
		return
	}
	m.workflowsFailed.Add(1)
}

func (m *BasicMetrics) OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt) {
	m.attempts.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult) {
	switch {
	case res.Status == StepSuccess:
		// Only successful steps count towards the average duration.
		m.stepsSucceeded.Add(1)
		m.totalStepDuration.Add(res.Duration.Nanoseconds())
	case res.Status.IsFailure():
		m.stepsFailed.Add(1)
	case res.Status == StepSkipped:
		m.stepsSkipped.Add(1)
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.workflowsStarted.Load()
	succeeded := m.workflowsSucceeded.Load()
	failed := m.workflowsFailed.Load()
	steps := m.stepsSucceeded.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:   started,
		WorkflowsSucceeded: succeeded,
		WorkflowsFailed:    failed,
		RunningWorkflows:   started - succeeded - failed,
		StepsSucceeded:     steps,
		StepsFailed:        m.stepsFailed.Load(),
		StepsSkipped:       m.stepsSkipped.Load(),
		Attempts:           m.attempts.Load(),
		AvgStepDuration:    avg,
	}
}
