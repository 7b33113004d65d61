package api

import "time"

// EventType identifies a run history event.
type EventType string

const (
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowTimedOut  EventType = "workflow.timed_out"

	EventPlanBuilt  EventType = "plan.built"
	EventPlanFailed EventType = "plan.failed"

	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
	EventStepSkipped   EventType = "step.skipped"
)

// RunEvent is a minimal append-only history record for audit/debugging.
type RunEvent struct {
	RunID    string
	At       time.Time
	Type     EventType
	Workflow string

	// Optional context.
	Phase Phase
	Step  string

	// Small, human-oriented details (e.g. error string). Keep this
	// low-volume: do NOT dump response bodies here.
	Detail string
}
