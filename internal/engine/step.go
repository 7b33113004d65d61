package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/internal/extract"
	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/internal/validate"
	"github.com/petrijr/apiflow/pkg/api"
)

// errConditionFalse ends a step whose condition evaluated to false.
var errConditionFalse = errors.New("condition evaluated to false")

// conditionError ends a step whose condition could not be evaluated. Such
// steps are skipped rather than failed.
type conditionError struct {
	err error
}

func (e *conditionError) Error() string { return "condition: " + e.err.Error() }

func (e *conditionError) Unwrap() error { return e.err }

// executor runs single steps for one workflow run.
type executor struct {
	run api.RunInfo

	exprs     *expr.Engine
	validator *validate.Validator
	extractor *extract.Extractor
	transport api.Transport
	clock     api.Clock
	builtins  api.Builtins
	observer  api.Observer
	events    eventRecorder
	logger    *slog.Logger

	baseURL string
	headers map[string]string
}

// outcome is a finished step together with the error that ended it.
type outcome struct {
	result api.StepResult
	err    error
	// bindings become the step's extracted scope layer.
	bindings map[string]any
}

// execute drives one step from condition check to extraction. It never
// panics on step errors: every failure is folded into the outcome.
func (x *executor) execute(ctx context.Context, phase api.Phase, step api.Step, parent *scope.Scope) outcome {
	res := &api.StepResult{
		Name:      step.Name,
		Phase:     phase,
		StartedAt: x.clock.Now(),
		Attempts:  []api.Attempt{},
		Extracted: map[string]any{},
	}
	x.observer.OnStepStart(ctx, x.run, phase, step.Name)
	x.events.record(ctx, api.EventStepStarted, phase, step.Name, "")

	vals, resp, err := x.runStep(ctx, step, parent, res)
	return x.finish(ctx, step, res, resp, vals, err)
}

// skip records a step that never started, e.g. after an abort.
func (x *executor) skip(ctx context.Context, phase api.Phase, step api.Step, reason error) outcome {
	res := &api.StepResult{
		Name:      step.Name,
		Phase:     phase,
		StartedAt: x.clock.Now(),
		Attempts:  []api.Attempt{},
		Extracted: map[string]any{},
	}
	return x.finish(ctx, step, res, nil, nil, &notRunError{cause: reason})
}

// runStep returns the extracted values and the last response received.
func (x *executor) runStep(ctx context.Context, step api.Step, parent *scope.Scope, res *api.StepResult) (map[string]any, *api.Response, error) {
	if err := interrupted(ctx, x.clock); err != nil {
		return nil, nil, err
	}

	ok, err := x.exprs.EvaluateCondition(step.Condition, parent, x.builtins)
	if err != nil {
		return nil, nil, &conditionError{err: err}
	}
	if !ok {
		return nil, nil, errConditionFalse
	}

	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = withDeadline(ctx, x.clock, step.Timeout, &api.StepTimeoutError{Step: step.Name, Timeout: step.Timeout})
		defer cancel()
	}

	vars, err := x.exprs.EvaluateMap(step.Variables, parent, x.builtins)
	if err != nil {
		return nil, nil, fmt.Errorf("step variables: %w", err)
	}
	local := parent.Child(scope.Step, vars).Seal()

	if step.Loop != nil {
		return x.runLoop(ctx, step, local, res)
	}
	return x.runInstance(ctx, step, local, -1, res)
}

func (x *executor) finish(ctx context.Context, step api.Step, res *api.StepResult, resp *api.Response, vals map[string]any, err error) outcome {
	res.Status = classify(err)
	if err != nil && !errors.Is(err, errConditionFalse) {
		res.Error = err.Error()
	}
	if res.Status == api.StepSuccess && vals != nil {
		res.Extracted = vals
	}
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		res.Diagnostics = ve.Verdict.Diagnostics
	}
	if res.Status.IsFailure() && (res.Phase == api.PhaseTeardown || step.IgnoreFailure) {
		res.Ignored = true
	}
	res.Duration = x.clock.Now().Sub(res.StartedAt)

	x.observer.OnStepCompleted(ctx, x.run, res)
	switch {
	case res.Status == api.StepSuccess:
		x.events.record(ctx, api.EventStepCompleted, res.Phase, res.Name, "")
	case res.Status == api.StepSkipped:
		x.events.record(ctx, api.EventStepSkipped, res.Phase, res.Name, res.Error)
	default:
		x.events.record(ctx, api.EventStepFailed, res.Phase, res.Name, res.Error)
	}

	return outcome{result: *res, err: err, bindings: bindings(step, res, resp)}
}

// classify maps the error that ended a step to its terminal status.
func classify(err error) api.StepStatus {
	var (
		ce *conditionError
		nr *notRunError
	)
	switch {
	case err == nil:
		return api.StepSuccess
	case errors.As(err, &nr):
		return api.StepSkipped
	case errors.Is(err, errConditionFalse), errors.As(err, &ce), errors.Is(err, api.ErrAborted):
		return api.StepSkipped
	case api.IsTimeout(err):
		return api.StepTimedOut
	default:
		return api.StepFailed
	}
}

// bindings returns what later steps see of res: the extracted values (or the
// step's defaults when it did not succeed) and a steps.<name> summary with
// the last response, which is empty when no request completed.
func bindings(step api.Step, res *api.StepResult, resp *api.Response) map[string]any {
	out := make(map[string]any, len(res.Extracted)+1)
	if res.Status == api.StepSuccess {
		maps.Copy(out, res.Extracted)
	} else {
		maps.Copy(out, step.Defaults)
	}
	out["steps."+step.Name] = map[string]any{
		"status":    string(res.Status),
		"extracted": res.Extracted,
		"response":  validate.ResponseVars(resp)["response"],
	}
	return out
}

// record appends an attempt to res and reports it.
func (x *executor) record(ctx context.Context, res *api.StepResult, at api.Attempt) {
	res.Attempts = append(res.Attempts, at)
	x.observer.OnAttempt(ctx, x.run, res.Name, at)
}
