package api

import (
	"time"
)

// StepStatus is the terminal state of a step.
type StepStatus string

const (
	StepSuccess  StepStatus = "success"
	StepFailed   StepStatus = "failed"
	StepSkipped  StepStatus = "skipped"
	StepTimedOut StepStatus = "timed_out"
)

// IsFailure reports whether the status counts as a failure for aggregation.
func (s StepStatus) IsFailure() bool {
	return s == StepFailed || s == StepTimedOut
}

// Status is the overall outcome of a workflow run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Phase identifies which part of a workflow a step belongs to.
type Phase string

const (
	PhaseSetup    Phase = "setup"
	PhaseMain     Phase = "main"
	PhaseTeardown Phase = "teardown"
)

// DiagnosticCategory groups validation diagnostics.
type DiagnosticCategory string

const (
	CategoryStatus  DiagnosticCategory = "status"
	CategoryHeader  DiagnosticCategory = "header"
	CategoryBody    DiagnosticCategory = "body"
	CategoryTiming  DiagnosticCategory = "timing"
	CategoryCustom  DiagnosticCategory = "custom"
	CategoryPoll    DiagnosticCategory = "poll"
	CategoryRequest DiagnosticCategory = "request"
)

// Diagnostic is a single failed check.
type Diagnostic struct {
	Category DiagnosticCategory `json:"category"`
	// Path is a JSON-pointer-style location, e.g. "/body/items/0/id".
	Path     string `json:"path,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   any    `json:"actual,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Verdict is the result of validating one response.
type Verdict struct {
	Passed      bool         `json:"passed"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// PassVerdict returns a passing verdict with no diagnostics.
func PassVerdict() Verdict {
	return Verdict{Passed: true}
}

// Attempt records one request/validate cycle of a step.
type Attempt struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	// Iteration is the loop iteration (0-based) or -1 outside of loops.
	Iteration int `json:"iteration"`
	// Poll is the 1-based poll check number, 0 when not polling.
	Poll int `json:"poll,omitempty"`

	Request    *ResolvedRequest `json:"request,omitempty"`
	StatusCode int              `json:"statusCode,omitempty"`
	Validation Verdict          `json:"validation"`
	Error      string           `json:"error,omitempty"`
}

// StepResult is produced exactly once per step per run.
type StepResult struct {
	Name        string         `json:"name"`
	Phase       Phase          `json:"phase"`
	Status      StepStatus     `json:"status"`
	Attempts    []Attempt      `json:"attempts"`
	Extracted   map[string]any `json:"extracted"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`

	// Ignored is set when a failure was downgraded (ignore_failure or teardown).
	Ignored bool `json:"ignored,omitempty"`
}

// WorkflowResult is handed to reporting collaborators; its JSON shape is the
// stable wire contract.
type WorkflowResult struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Setup     []StepResult  `json:"setup"`
	Steps     []StepResult  `json:"steps"`
	Teardown  []StepResult  `json:"teardown"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// AllResults returns setup, main and teardown results in execution order.
func (r *WorkflowResult) AllResults() []StepResult {
	out := make([]StepResult, 0, len(r.Setup)+len(r.Steps)+len(r.Teardown))
	out = append(out, r.Setup...)
	out = append(out, r.Steps...)
	out = append(out, r.Teardown...)
	return out
}

// Step looks up a step result by name across all phases.
func (r *WorkflowResult) Step(name string) (StepResult, bool) {
	for _, sr := range r.AllResults() {
		if sr.Name == name {
			return sr, true
		}
	}
	return StepResult{}, false
}

// Summary counts step outcomes across all phases.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Summary returns per-status counters for the run.
func (r *WorkflowResult) Summary() Summary {
	var s Summary
	for _, sr := range r.AllResults() {
		s.Total++
		switch {
		case sr.Status == StepSuccess:
			s.Passed++
		case sr.Status.IsFailure():
			s.Failed++
		case sr.Status == StepSkipped:
			s.Skipped++
		}
	}
	return s
}

// ExecutionPlan groups main steps into levels. Every dependency of a step in
// level k lies in a level < k; steps within a level keep declaration order.
type ExecutionPlan struct {
	Levels [][]string `json:"levels"`
}

// LevelOf returns the level index of a step, or -1 if it is not planned.
func (p *ExecutionPlan) LevelOf(name string) int {
	for i, lvl := range p.Levels {
		for _, n := range lvl {
			if n == name {
				return i
			}
		}
	}
	return -1
}

// ResultListOptions filters stored workflow results. Zero values mean
// "no filter".
type ResultListOptions struct {
	WorkflowName string
	Status       Status
}
