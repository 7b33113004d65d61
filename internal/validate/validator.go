// Package validate checks responses against step expectations and poll
// conditions.
//
// Validation never stops at the first mismatch: every failed check becomes
// an api.Diagnostic with a JSON-pointer path, so a single failed attempt
// reports everything that was wrong with the response.
package validate

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/internal/extract"
	"github.com/petrijr/apiflow/pkg/api"
)

// Validator evaluates ExpectSpecs and PollConditions.
type Validator struct {
	exprs         *expr.Engine
	builtins      api.Builtins
	defaultStatus func(int) bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithDefaultStatus sets the predicate used when an expectation lists no
// status codes. The default accepts 2xx and 3xx.
func WithDefaultStatus(fn func(status int) bool) Option {
	return func(v *Validator) { v.defaultStatus = fn }
}

// WithBuiltins sets the functions available to templated expectations and
// custom checks.
func WithBuiltins(b api.Builtins) Option {
	return func(v *Validator) { v.builtins = b }
}

// New creates a Validator that evaluates expressions with exprs.
func New(exprs *expr.Engine, opts ...Option) *Validator {
	v := &Validator{
		exprs:         exprs,
		defaultStatus: func(s int) bool { return s >= 200 && s < 400 },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ResponseVars exposes a response to expressions as response.status,
// response.headers, response.body and response.latency_ms.
func ResponseVars(resp *api.Response) map[string]any {
	if resp == nil {
		return map[string]any{"response": map[string]any{}}
	}
	headers := make(map[string]any, len(resp.Headers))
	for k, v := range resp.Headers {
		headers[k] = v
	}
	return map[string]any{
		"response": map[string]any{
			"status":     resp.Status,
			"headers":    headers,
			"body":       resp.Body,
			"latency_ms": resp.Latency.Milliseconds(),
		},
	}
}

type run struct {
	v     *Validator
	scope expr.Scope
	diags []api.Diagnostic
}

func (r *run) fail(cat api.DiagnosticCategory, path, expected string, actual any, msg string) {
	r.diags = append(r.diags, api.Diagnostic{
		Category: cat,
		Path:     path,
		Expected: expected,
		Actual:   actual,
		Message:  msg,
	})
}

// Validate checks resp against expect and returns the verdict. A nil expect
// only applies the default status predicate.
func (v *Validator) Validate(expect *api.ExpectSpec, resp *api.Response, scope expr.Scope) api.Verdict {
	r := &run{v: v, scope: expr.With(scope, ResponseVars(resp))}
	if expect == nil {
		expect = &api.ExpectSpec{}
	}

	r.status(expect.Status, resp.Status)
	r.headers(expect.Headers, resp)
	if expect.Body != nil {
		r.body(resp.Body, expect.Body, "/body", true)
	}
	if expect.ResponseTime != nil {
		r.timing(expect.ResponseTime, resp)
	}
	for _, check := range expect.Custom {
		ok, err := v.exprs.EvaluateCondition(check, r.scope, v.builtins)
		switch {
		case err != nil:
			r.fail(api.CategoryCustom, "/custom", check, nil, err.Error())
		case !ok:
			r.fail(api.CategoryCustom, "/custom", check, false, "custom check evaluated to false")
		}
	}

	return api.Verdict{Passed: len(r.diags) == 0, Diagnostics: r.diags}
}

func (r *run) status(want []int, got int) {
	if len(want) == 0 {
		if !r.v.defaultStatus(got) {
			r.fail(api.CategoryStatus, "/status", "success status", got, "")
		}
		return
	}
	if !slices.Contains(want, got) {
		r.fail(api.CategoryStatus, "/status", fmt.Sprint(want), got, "")
	}
}

func (r *run) headers(want map[string]any, resp *api.Response) {
	names := make([]string, 0, len(want))
	for k := range want {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		path := "/headers/" + pointerEscape(name)
		actual, ok := resp.Header(name)
		if !ok {
			r.fail(api.CategoryHeader, path, expr.Stringify(want[name]), nil, "header missing")
			continue
		}
		r.leaf(api.CategoryHeader, path, actual, want[name], true)
	}
}

func (r *run) timing(want any, resp *api.Response) {
	ms := resp.Latency.Milliseconds()
	switch w := want.(type) {
	case string, map[string]any:
		r.leaf(api.CategoryTiming, "/response_time_ms", ms, w, true)
	default:
		limit, err := cast.ToFloat64E(w)
		if err != nil {
			r.fail(api.CategoryTiming, "/response_time_ms", expr.Stringify(w), ms, "invalid response time expectation")
			return
		}
		if float64(ms) > limit {
			r.fail(api.CategoryTiming, "/response_time_ms", "<= "+expr.Stringify(w), ms, "")
		}
	}
}

// body compares actual against the expected shape, collecting every
// mismatch. present is false when the key holding actual was absent.
func (r *run) body(actual, expected any, path string, present bool) {
	switch exp := expected.(type) {
	case map[string]any:
		if _, isOp := operatorMatchers(exp); isOp {
			r.leaf(api.CategoryBody, path, actual, exp, present)
			return
		}
		keys := make([]string, 0, len(exp))
		for k := range exp {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		obj, isObj := actual.(map[string]any)
		reported := false
		for _, k := range keys {
			switch k {
			case "$length", "${length}":
				n, ok := expr.Len(actual)
				if !ok {
					r.fail(api.CategoryBody, path+"/length", expr.Stringify(exp[k]), actual, "value has no length")
					continue
				}
				r.leaf(api.CategoryBody, path+"/length", n, exp[k], true)
				continue
			case "$each", "${each}":
				items, ok := actual.([]any)
				if !ok {
					r.fail(api.CategoryBody, path, "array", actual, "expected an array")
					continue
				}
				for i, it := range items {
					r.body(it, exp[k], path+"/"+strconv.Itoa(i), true)
				}
				continue
			}
			if !isObj {
				if !reported {
					r.fail(api.CategoryBody, path, "object", actual, missingMsg(present, "expected an object"))
					reported = true
				}
				continue
			}
			child, ok := obj[k]
			r.body(child, exp[k], path+"/"+pointerEscape(k), ok)
		}
	case []any:
		items, ok := actual.([]any)
		if !ok {
			r.fail(api.CategoryBody, path, "array", actual, missingMsg(present, "expected an array"))
			return
		}
		if len(items) != len(exp) {
			r.fail(api.CategoryBody, path+"/length", strconv.Itoa(len(exp)), len(items), "array length differs")
			return
		}
		for i := range exp {
			r.body(items[i], exp[i], path+"/"+strconv.Itoa(i), true)
		}
	default:
		r.leaf(api.CategoryBody, path, actual, expected, present)
	}
}

// leaf checks a scalar expectation: a matcher string, an operator dict, a
// template or a literal.
func (r *run) leaf(cat api.DiagnosticCategory, path string, actual, expected any, present bool) {
	switch exp := expected.(type) {
	case string:
		if m, ok := parseMatcher(exp); ok {
			r.applyMatchers(cat, path, actual, []matcher{m}, present)
			return
		}
		if expr.HasPlaceholder(exp) {
			want, err := r.v.exprs.Evaluate(exp, r.scope, r.v.builtins)
			if err != nil {
				r.fail(cat, path, exp, actual, err.Error())
				return
			}
			if !expr.Equal(actual, want) {
				r.fail(cat, path, expr.Stringify(want), actual, missingMsg(present, ""))
			}
			return
		}
	case map[string]any:
		if ms, ok := operatorMatchers(exp); ok {
			r.applyMatchers(cat, path, actual, ms, present)
			return
		}
	}
	if !expr.Equal(actual, expected) {
		r.fail(cat, path, expr.Stringify(expected), actual, missingMsg(present, ""))
	}
}

func (r *run) applyMatchers(cat api.DiagnosticCategory, path string, actual any, ms []matcher, present bool) {
	for _, m := range ms {
		ok, err := m.match(actual)
		switch {
		case err != nil:
			r.fail(cat, path, m.String(), actual, err.Error())
		case !ok:
			r.fail(cat, path, m.String(), actual, missingMsg(present, ""))
		}
	}
}

func missingMsg(present bool, fallback string) string {
	if !present {
		return "missing"
	}
	return fallback
}

// pointerEscape escapes a JSON-pointer reference token.
func pointerEscape(s string) string {
	return strings.NewReplacer("~", "~0", "/", "~1").Replace(s)
}

// MatchPoll reports whether resp satisfies every non-empty part of cond.
// Body keys are extraction paths; a list value matches if any element does.
func (v *Validator) MatchPoll(cond *api.PollCondition, resp *api.Response, scope expr.Scope) (bool, error) {
	if cond == nil {
		return true, nil
	}
	if len(cond.Status) > 0 && !slices.Contains(cond.Status, resp.Status) {
		return false, nil
	}
	r := &run{v: v, scope: expr.With(scope, ResponseVars(resp))}
	for key, want := range cond.Body {
		actual, present := extract.Resolve(resp, bodyPath(key))
		if !present {
			return false, nil
		}
		options, anyOf := want.([]any)
		if !anyOf {
			options = []any{want}
		}
		matched := false
		for _, opt := range options {
			r.diags = r.diags[:0]
			r.leaf(api.CategoryPoll, "/body", actual, opt, true)
			if len(r.diags) == 0 {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}
	if cond.Condition != "" {
		ok, err := v.exprs.EvaluateCondition(cond.Condition, r.scope, v.builtins)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// bodyPath lets poll conditions name body fields without the "$." prefix.
func bodyPath(key string) string {
	if strings.HasPrefix(key, "$") || strings.HasPrefix(key, "header:") {
		return key
	}
	return "$." + key
}
