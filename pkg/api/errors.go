package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrAborted is the cancellation cause used when a main step with the abort
// policy fails and the remaining work is cancelled.
var ErrAborted = errors.New("workflow aborted")

// DefinitionErrorKind classifies structural problems found before execution.
type DefinitionErrorKind string

const (
	MissingDependency DefinitionErrorKind = "MissingDependency"
	CyclicDependency  DefinitionErrorKind = "CyclicDependency"
	DuplicateStep     DefinitionErrorKind = "DuplicateStep"
	UnnamedStep       DefinitionErrorKind = "UnnamedStep"
)

// DefinitionError is fatal at plan-build time: no main step executes.
type DefinitionError struct {
	Kind       DefinitionErrorKind
	Step       string
	Dependency string
	Cycle      []string
}

func (e *DefinitionError) Error() string {
	switch e.Kind {
	case MissingDependency:
		return fmt.Sprintf("step %q depends on unknown step %q", e.Step, e.Dependency)
	case CyclicDependency:
		return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
	case DuplicateStep:
		return fmt.Sprintf("duplicate step name %q", e.Step)
	case UnnamedStep:
		return "step name is required"
	default:
		return fmt.Sprintf("invalid workflow definition (%s)", e.Kind)
	}
}

// EvaluationErrorKind classifies expression failures.
type EvaluationErrorKind string

const (
	UndefinedVariable   EvaluationErrorKind = "UndefinedVariable"
	MalformedExpression EvaluationErrorKind = "MalformedExpression"
	UnknownFunction     EvaluationErrorKind = "UnknownFunction"
	TypeError           EvaluationErrorKind = "TypeError"
)

// EvaluationError is returned by the expression engine.
type EvaluationError struct {
	Kind EvaluationErrorKind
	// Expr is the full expression text being evaluated.
	Expr string
	// Name is the offending variable or function name, if any.
	Name    string
	Message string
}

func (e *EvaluationError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Expr != "" {
		fmt.Fprintf(&b, " (in %q)", e.Expr)
	}
	return b.String()
}

// IsUndefinedVariable reports whether err is an EvaluationError caused by an
// unbound variable.
func IsUndefinedVariable(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee) && ee.Kind == UndefinedVariable
}

// ExtractionError is returned under the strict extraction policy when a path
// matches nothing.
type ExtractionError struct {
	Name string
	Path string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction %q: path %q matched nothing", e.Name, e.Path)
}

// ValidationError carries a failing verdict.
type ValidationError struct {
	Verdict Verdict
}

func (e *ValidationError) Error() string {
	n := len(e.Verdict.Diagnostics)
	if n == 0 {
		return "validation failed"
	}
	first := e.Verdict.Diagnostics[0]
	msg := first.Message
	if msg == "" {
		msg = fmt.Sprintf("expected %s, got %v", first.Expected, first.Actual)
	}
	if n == 1 {
		return fmt.Sprintf("validation failed at %s: %s", first.Path, msg)
	}
	return fmt.Sprintf("validation failed at %s: %s (and %d more)", first.Path, msg, n-1)
}

// TransportError wraps failures of the transport collaborator.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TeardownStepError is logged, never propagated.
type TeardownStepError struct {
	Step string
	Err  error
}

func (e *TeardownStepError) Error() string {
	return fmt.Sprintf("teardown step %q: %v", e.Step, e.Err)
}

func (e *TeardownStepError) Unwrap() error { return e.Err }

// WorkflowTimeoutError is the cancellation cause of a run that exceeded
// Settings.Timeout.
type WorkflowTimeoutError struct {
	Workflow string
	Timeout  time.Duration
}

func (e *WorkflowTimeoutError) Error() string {
	return fmt.Sprintf("workflow %q exceeded timeout of %s", e.Workflow, e.Timeout)
}

// IsWorkflowTimeout reports whether err is (or wraps) a WorkflowTimeoutError.
func IsWorkflowTimeout(err error) bool {
	var te *WorkflowTimeoutError
	return errors.As(err, &te)
}

// StepTimeoutError is the cancellation cause of a step that exceeded its own
// Timeout.
type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("step %q exceeded timeout of %s", e.Step, e.Timeout)
}

// PollTimeoutError is returned when a poll never satisfied its until
// condition and the poll's timeout policy is fail.
type PollTimeoutError struct {
	Step    string
	Timeout time.Duration
	Checks  int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("step %q: polling timed out after %s (%d checks)", e.Step, e.Timeout, e.Checks)
}

// IsTimeout reports whether err is any of the timeout errors: workflow, step
// or poll.
func IsTimeout(err error) bool {
	var (
		st *StepTimeoutError
		pt *PollTimeoutError
	)
	return IsWorkflowTimeout(err) || errors.As(err, &st) || errors.As(err, &pt)
}
