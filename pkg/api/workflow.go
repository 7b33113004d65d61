package api

import (
	"strings"
	"time"
)

// FailurePolicy selects what the workflow executor does when a main step fails.
type FailurePolicy string

const (
	// OnFailureAbort marks the workflow failed and skips all remaining main steps.
	OnFailureAbort FailurePolicy = "abort"
	// OnFailureContinue records the failure and keeps executing the plan.
	OnFailureContinue FailurePolicy = "continue"
	// OnFailureRetry re-attempts the step inside the step executor. If no
	// RetrySpec is declared, DefaultRetrySpec is used.
	OnFailureRetry FailurePolicy = "retry"
)

// BackoffKind is the delay policy applied between retry attempts.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// PollTimeoutPolicy decides the outcome of a poll that never satisfied its
// until condition.
type PollTimeoutPolicy string

const (
	PollTimeoutFail     PollTimeoutPolicy = "fail"
	PollTimeoutContinue PollTimeoutPolicy = "continue"
)

// DefaultLoopVar is bound when a LoopSpec does not name its iteration variable.
const DefaultLoopVar = "item"

// Poll defaults applied when a PollSpec leaves Interval or Timeout unset.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 60 * time.Second
)

// DefaultRetrySpec is used for steps with OnFailure == OnFailureRetry that do
// not declare their own RetrySpec.
var DefaultRetrySpec = RetrySpec{
	MaxAttempts: 3,
	Backoff:     BackoffFixed,
	Initial:     time.Second,
}

// Workflow is a named scenario made of setup, main and teardown steps that
// share one variable scope.
//
// Step names must be unique across Setup, Steps and Teardown.
type Workflow struct {
	Name        string
	Description string
	Tags        []string

	// Variables are the workflow-scoped defaults. String values may contain
	// ${...} expressions; they are evaluated once against the global layer.
	Variables map[string]any

	Settings Settings

	Setup    []Step
	Steps    []Step
	Teardown []Step
}

// Settings tune how the main steps of a workflow are executed.
type Settings struct {
	// Timeout bounds the whole run (setup and main steps). Zero means no limit.
	Timeout time.Duration

	// MaxParallel bounds the number of concurrently running steps within one
	// execution-plan level. Values <= 0 are treated as 1.
	MaxParallel int

	// FailFast turns every main-step failure into an abort, regardless of the
	// step's own OnFailure policy.
	FailFast bool

	// Parallel enables concurrent execution of same-level steps.
	//
	// It also changes when extracted values become visible. Sequential runs
	// publish each step's values as soon as it finishes, so a later step of
	// the same level can read them. Parallel runs publish a level's values at
	// the level barrier, so same-level steps only see earlier levels.
	Parallel bool
}

// Endpoint is the method and path template a step calls.
type Endpoint struct {
	Method string
	Path   string
}

// ParseEndpoint splits "POST /users/{id}" into an Endpoint. A value without a
// method is treated as a GET.
func ParseEndpoint(s string) Endpoint {
	fields := strings.Fields(s)
	switch len(fields) {
	case 0:
		return Endpoint{Method: "GET", Path: "/"}
	case 1:
		return Endpoint{Method: "GET", Path: fields[0]}
	default:
		return Endpoint{
			Method: strings.ToUpper(fields[0]),
			Path:   strings.Join(fields[1:], " "),
		}
	}
}

func (e Endpoint) String() string {
	return e.Method + " " + e.Path
}

// Step is one declared API call, or a loop/poll of calls, within a workflow.
type Step struct {
	Name        string
	Description string
	Endpoint    Endpoint

	Request *RequestSpec
	Expect  *ExpectSpec

	// Extract maps a variable name to a path expression evaluated against the
	// response (for example "$.id" or "$headers.Location").
	Extract map[string]string

	// DependsOn names main steps that must reach a terminal state first.
	// Ignored for setup and teardown steps.
	DependsOn []string

	// Condition gates the step. Empty means always run.
	Condition string

	// Variables are step-local bindings, evaluated against the enclosing scope.
	Variables map[string]any

	// Defaults are published in place of extracted values when the step is
	// skipped or fails, so downstream references still resolve.
	Defaults map[string]any

	Loop  *LoopSpec
	Poll  *PollSpec
	Retry *RetrySpec

	OnFailure FailurePolicy

	// IgnoreFailure downgrades a failure to a warning. It is implicitly true
	// for teardown steps.
	IgnoreFailure bool

	// Timeout bounds a single step, including its retries and polls.
	Timeout time.Duration
}

// FailurePolicy returns the effective failure policy (abort when unset).
func (s Step) FailurePolicy() FailurePolicy {
	if s.OnFailure == "" {
		return OnFailureAbort
	}
	return s.OnFailure
}

// EffectiveRetry returns the retry spec the step executor should apply, or
// nil when the step is not retried.
func (s Step) EffectiveRetry() *RetrySpec {
	if s.Retry != nil {
		return s.Retry
	}
	if s.OnFailure == OnFailureRetry {
		r := DefaultRetrySpec
		return &r
	}
	return nil
}

// RequestSpec holds the templated parts of a request.
type RequestSpec struct {
	Headers map[string]string
	Query   map[string]any

	// PathParams fill {name} segments of the endpoint path.
	PathParams map[string]any

	Body        any
	ContentType string
}

// ExpectSpec describes what a response must look like for the step to pass.
type ExpectSpec struct {
	// Status lists the accepted status codes. Empty means the validator's
	// default predicate (2xx/3xx unless configured otherwise).
	Status []int

	Headers map[string]any

	// Body mirrors the response body's shape. Leaves are literals or matcher
	// strings such as "type:string" or "gte:10".
	Body any

	// ResponseTime is either a number (upper bound in milliseconds) or a
	// comparison matcher string such as "lte:500".
	ResponseTime any

	// Custom holds boolean expressions evaluated with response.* in scope.
	Custom []string
}

// LoopSpec repeats a step either a fixed number of times or over a sequence.
type LoopSpec struct {
	Count int

	// Over is an expression that must yield a sequence.
	Over string

	// As names the iteration variable (DefaultLoopVar when empty).
	As string

	// Until stops the loop early once it evaluates to true.
	Until string

	Delay time.Duration
}

// Var returns the iteration variable name.
func (l LoopSpec) Var() string {
	if l.As == "" {
		return DefaultLoopVar
	}
	return l.As
}

// PollSpec repeats a request until a condition holds or the timeout elapses.
type PollSpec struct {
	Interval     time.Duration
	Timeout      time.Duration
	InitialDelay time.Duration

	Until *PollCondition
	While *PollCondition

	OnTimeout PollTimeoutPolicy
}

// PollCondition is matched against each polled response. All non-empty parts
// must match.
type PollCondition struct {
	Status []int

	// Body maps a (dotted) field path to an expected value. A list value
	// means "any of".
	Body map[string]any

	// Condition is a boolean expression with response.* in scope.
	Condition string
}

// RetrySpec re-attempts a failed run-then-validate cycle.
type RetrySpec struct {
	MaxAttempts int
	Backoff     BackoffKind
	Initial     time.Duration
	Max         time.Duration
}

// AllSteps returns setup, main and teardown steps in that order.
func (w Workflow) AllSteps() []Step {
	out := make([]Step, 0, len(w.Setup)+len(w.Steps)+len(w.Teardown))
	out = append(out, w.Setup...)
	out = append(out, w.Steps...)
	out = append(out, w.Teardown...)
	return out
}

// HasTag reports whether the workflow carries the given tag.
func (w Workflow) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
