package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/internal/validate"
	"github.com/petrijr/apiflow/pkg/api"
)

// LoopIndexVar is bound to the 0-based iteration number inside loops.
const LoopIndexVar = "loop.index"

// loopItems resolves what a loop iterates over.
func (x *executor) loopItems(l *api.LoopSpec, sc *scope.Scope) ([]any, error) {
	if l.Over == "" {
		items := make([]any, max(l.Count, 0))
		for i := range items {
			items[i] = i
		}
		return items, nil
	}

	src := l.Over
	if !expr.HasPlaceholder(src) {
		src = "${" + src + "}"
	}
	v, err := x.exprs.Evaluate(src, sc, x.builtins)
	if err != nil {
		return nil, fmt.Errorf("loop over: %w", err)
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, nil
	}
	// A single value is iterated once.
	return []any{v}, nil
}

// runLoop runs the step once per item. Each iteration sees its own sealed
// layer binding the loop variable; extracted values are collected into
// ordered lists under the same names.
func (x *executor) runLoop(ctx context.Context, step api.Step, sc *scope.Scope, res *api.StepResult) (map[string]any, *api.Response, error) {
	l := step.Loop
	items, err := x.loopItems(l, sc)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, len(step.Extract))
	for name := range step.Extract {
		names = append(names, name)
	}
	sort.Strings(names)
	collected := make(map[string][]any, len(names))
	for _, name := range names {
		collected[name] = []any{}
	}

	var last *api.Response
	for i, item := range items {
		if i > 0 {
			if err := sleep(ctx, x.clock, l.Delay); err != nil {
				return nil, last, err
			}
		}

		iter := sc.Child(scope.Iteration, map[string]any{
			l.Var():      item,
			LoopIndexVar: i,
		}).Seal()

		vals, resp, err := x.runInstance(ctx, step, iter, i, res)
		if resp != nil {
			last = resp
		}
		if err != nil {
			return nil, last, fmt.Errorf("iteration %d: %w", i, err)
		}
		for _, name := range names {
			collected[name] = append(collected[name], vals[name])
		}

		if l.Until != "" {
			view := expr.With(expr.With(iter, vals), validate.ResponseVars(resp))
			done, err := x.exprs.EvaluateCondition(l.Until, view, x.builtins)
			if err != nil {
				return nil, last, fmt.Errorf("loop until: %w", err)
			}
			if done {
				break
			}
		}
	}

	out := make(map[string]any, len(collected))
	for name, vs := range collected {
		out[name] = vs
	}
	return out, last, nil
}
