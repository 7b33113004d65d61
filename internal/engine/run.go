package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/apiflow/internal/graph"
	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/pkg/api"
)

// errSetupFailed is recorded on main steps that never ran because a setup
// step failed.
var errSetupFailed = errors.New("setup failed")

// notRunError marks a step that was never started.
type notRunError struct {
	cause error
}

func (e *notRunError) Error() string { return "not run: " + e.cause.Error() }

func (e *notRunError) Unwrap() error { return e.cause }

// runState is owned by the coordinating goroutine of one run. Only that
// goroutine publishes scope layers.
type runState struct {
	head *scope.Scope

	timedOut error
	failure  error
}

func (st *runState) publish(o outcome) {
	st.head = st.head.Child(scope.Extracted, o.bindings).Seal()
}

func (st *runState) fail(step string, err error) {
	if st.failure == nil {
		st.failure = fmt.Errorf("step %q: %w", step, err)
	}
}

// note records a timeout cause; other causes are ignored.
func (st *runState) note(cause error) {
	if st.timedOut == nil && api.IsWorkflowTimeout(cause) {
		st.timedOut = cause
	}
}

// abortCause returns why o stops the rest of the plan, or nil.
func abortCause(wf api.Workflow, step api.Step, o outcome) error {
	if api.IsWorkflowTimeout(o.err) {
		return o.err
	}
	if !o.result.Status.IsFailure() || o.result.Ignored {
		return nil
	}
	if wf.Settings.FailFast || step.FailurePolicy() != api.OnFailureContinue {
		return api.ErrAborted
	}
	return nil
}

// execute runs all three phases of wf into res. It returns a
// DefinitionError when the plan could not be built.
func (e *engineImpl) execute(ctx context.Context, x *executor, wf api.Workflow, vars map[string]any, res *api.WorkflowResult) (*runState, error) {
	global := scope.New(scope.Global, e.globals).Seal()
	st := &runState{head: global}

	runCtx, cancel := withDeadline(ctx, e.clock, wf.Settings.Timeout,
		&api.WorkflowTimeoutError{Workflow: wf.Name, Timeout: wf.Settings.Timeout})
	defer cancel()

	layer, layerErr := x.workflowLayer(global, wf, vars)
	if layerErr == nil {
		st.head = layer
	}

	plan, defErr := graph.Plan(wf)
	switch {
	case defErr != nil:
		x.events.record(ctx, api.EventPlanFailed, "", "", defErr.Error())
		res.Setup = x.skipAll(runCtx, api.PhaseSetup, wf.Setup, defErr)
		res.Steps = x.skipAll(runCtx, api.PhaseMain, wf.Steps, defErr)

	case layerErr != nil:
		st.failure = layerErr
		res.Setup = x.skipAll(runCtx, api.PhaseSetup, wf.Setup, layerErr)
		res.Steps = x.skipAll(runCtx, api.PhaseMain, wf.Steps, layerErr)

	default:
		x.events.record(ctx, api.EventPlanBuilt, "", "", fmt.Sprintf("%d levels", len(plan.Levels)))
		if e.runSetup(runCtx, x, st, wf, res) {
			e.runMain(runCtx, x, st, wf, plan, res)
		} else {
			var reason error = errSetupFailed
			if st.timedOut != nil {
				reason = st.timedOut
			}
			res.Steps = x.skipAll(runCtx, api.PhaseMain, wf.Steps, reason)
		}
	}

	// Teardown is detached from the run's cancellation and deadline.
	e.runTeardown(context.WithoutCancel(ctx), x, st, wf, res)
	return st, defErr
}

// workflowLayer evaluates the workflow's variables over the global layer.
// Variables passed to the run take precedence.
func (x *executor) workflowLayer(global *scope.Scope, wf api.Workflow, vars map[string]any) (*scope.Scope, error) {
	evaluated, err := x.exprs.EvaluateMap(wf.Variables, global.Child(scope.Workflow, vars), x.builtins)
	if err != nil {
		return nil, fmt.Errorf("workflow variables: %w", err)
	}
	maps.Copy(evaluated, vars)
	return global.Child(scope.Workflow, evaluated).Seal(), nil
}

func (x *executor) skipAll(ctx context.Context, phase api.Phase, steps []api.Step, reason error) []api.StepResult {
	out := make([]api.StepResult, 0, len(steps))
	for _, step := range steps {
		out = append(out, x.skip(ctx, phase, step, reason).result)
	}
	return out
}

// runSetup runs setup steps in order and reports whether main steps may
// start.
func (e *engineImpl) runSetup(ctx context.Context, x *executor, st *runState, wf api.Workflow, res *api.WorkflowResult) bool {
	var stop error
	for _, step := range wf.Setup {
		if stop == nil {
			if cause := interrupted(ctx, e.clock); cause != nil {
				st.note(cause)
				stop = cause
			}
		}

		var o outcome
		if stop != nil {
			o = x.skip(ctx, api.PhaseSetup, step, stop)
		} else {
			o = x.execute(ctx, api.PhaseSetup, step, st.head)
		}
		st.publish(o)
		res.Setup = append(res.Setup, o.result)

		if stop != nil {
			continue
		}
		switch {
		case api.IsWorkflowTimeout(o.err):
			st.note(o.err)
			stop = o.err
		case o.result.Status.IsFailure() && !o.result.Ignored:
			st.fail(step.Name, o.err)
			stop = errSetupFailed
		}
	}
	return stop == nil
}

// runMain executes the plan level by level. Within a level steps see the
// scope as it was when the level started; their extractions are published
// at the level barrier. Sequential runs publish after every step.
func (e *engineImpl) runMain(ctx context.Context, x *executor, st *runState, wf api.Workflow, plan *api.ExecutionPlan, res *api.WorkflowResult) {
	byName := make(map[string]api.Step, len(wf.Steps))
	for _, s := range wf.Steps {
		byName[s.Name] = s
	}
	done := make(map[string]api.StepResult, len(wf.Steps))

	mainCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	settle := func(step api.Step, o outcome) {
		st.publish(o)
		done[step.Name] = o.result
		if cause := abortCause(wf, step, o); cause != nil {
			st.note(cause)
			abort(cause)
		}
		if o.result.Status.IsFailure() && !o.result.Ignored && !api.IsWorkflowTimeout(o.err) {
			st.fail(step.Name, o.err)
		}
	}

	for _, level := range plan.Levels {
		if cause := interrupted(mainCtx, e.clock); cause != nil {
			st.note(cause)
			for _, name := range level {
				settle(byName[name], x.skip(mainCtx, api.PhaseMain, byName[name], cause))
			}
			continue
		}

		if !wf.Settings.Parallel || len(level) == 1 {
			for _, name := range level {
				step := byName[name]
				if cause := interrupted(mainCtx, e.clock); cause != nil {
					st.note(cause)
					settle(step, x.skip(mainCtx, api.PhaseMain, step, cause))
					continue
				}
				settle(step, x.execute(mainCtx, api.PhaseMain, step, st.head))
			}
			continue
		}

		head := st.head
		outs := make([]outcome, len(level))
		var g errgroup.Group
		g.SetLimit(max(wf.Settings.MaxParallel, 1))
		for i, name := range level {
			step := byName[name]
			g.Go(func() error {
				if cause := interrupted(mainCtx, e.clock); cause != nil {
					outs[i] = x.skip(mainCtx, api.PhaseMain, step, cause)
					return nil
				}
				outs[i] = x.execute(mainCtx, api.PhaseMain, step, head)
				if cause := abortCause(wf, step, outs[i]); cause != nil {
					abort(cause)
				}
				return nil
			})
		}
		_ = g.Wait()
		for i, name := range level {
			settle(byName[name], outs[i])
		}
	}

	res.Steps = make([]api.StepResult, 0, len(wf.Steps))
	for _, s := range wf.Steps {
		res.Steps = append(res.Steps, done[s.Name])
	}
}

// runTeardown runs every teardown step in order. Failures are logged and
// never stop the remaining steps.
func (e *engineImpl) runTeardown(ctx context.Context, x *executor, st *runState, wf api.Workflow, res *api.WorkflowResult) {
	for _, step := range wf.Teardown {
		o := x.execute(ctx, api.PhaseTeardown, step, st.head)
		st.publish(o)
		res.Teardown = append(res.Teardown, o.result)
		if o.result.Status.IsFailure() {
			err := &api.TeardownStepError{Step: step.Name, Err: o.err}
			e.logger.Warn("teardown step failed",
				"workflow", wf.Name, "run", x.run.ID, "step", step.Name, "error", err)
		}
	}
}

// aggregate sets the overall status of res.
func aggregate(res *api.WorkflowResult, st *runState, defErr error) {
	switch {
	case defErr != nil:
		res.Status = api.StatusFailed
		res.Error = defErr.Error()
	case st.timedOut != nil:
		res.Status = api.StatusTimedOut
		res.Error = st.timedOut.Error()
	case st.failure != nil:
		res.Status = api.StatusFailed
		res.Error = st.failure.Error()
	default:
		res.Status = api.StatusSuccess
	}
}
