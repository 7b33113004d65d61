package engine

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"strings"

	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/pkg/api"
)

var pathParamRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveRequest evaluates every templated part of the step's request
// against sc.
func (x *executor) resolveRequest(step api.Step, sc *scope.Scope) (api.ResolvedRequest, error) {
	spec := step.Request
	if spec == nil {
		spec = &api.RequestSpec{}
	}

	path, err := x.exprs.EvaluateString(step.Endpoint.Path, sc, x.builtins)
	if err != nil {
		return api.ResolvedRequest{}, fmt.Errorf("path: %w", err)
	}
	path, err = x.fillPathParams(path, spec.PathParams, sc)
	if err != nil {
		return api.ResolvedRequest{}, err
	}

	req := api.ResolvedRequest{
		Method:  step.Endpoint.Method,
		URL:     joinURL(x.baseURL, path),
		Headers: maps.Clone(x.headers),
		Timeout: step.Timeout,
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.Headers == nil {
		req.Headers = make(map[string]string, len(spec.Headers))
	}

	for name, tmpl := range spec.Headers {
		v, err := x.exprs.EvaluateString(tmpl, sc, x.builtins)
		if err != nil {
			return api.ResolvedRequest{}, fmt.Errorf("header %q: %w", name, err)
		}
		req.Headers[name] = v
	}
	if spec.ContentType != "" {
		req.Headers["Content-Type"] = spec.ContentType
	}

	if len(spec.Query) > 0 {
		req.Query = make(map[string]string, len(spec.Query))
		for name, tmpl := range spec.Query {
			v, err := x.exprs.EvaluateValue(tmpl, sc, x.builtins)
			if err != nil {
				return api.ResolvedRequest{}, fmt.Errorf("query %q: %w", name, err)
			}
			req.Query[name] = expr.Stringify(v)
		}
	}

	if spec.Body != nil {
		body, err := x.exprs.EvaluateValue(spec.Body, sc, x.builtins)
		if err != nil {
			return api.ResolvedRequest{}, fmt.Errorf("body: %w", err)
		}
		req.Body = body
	}

	return req, nil
}

// fillPathParams replaces {name} segments with escaped parameter values.
// A segment without a matching parameter is an undefined variable.
func (x *executor) fillPathParams(path string, params map[string]any, sc *scope.Scope) (string, error) {
	var firstErr error
	out := pathParamRe.ReplaceAllStringFunc(path, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := m[1 : len(m)-1]
		raw, ok := params[name]
		if !ok {
			firstErr = &api.EvaluationError{
				Kind:    api.UndefinedVariable,
				Expr:    path,
				Name:    name,
				Message: "no path parameter for segment",
			}
			return m
		}
		v, err := x.exprs.EvaluateValue(raw, sc, x.builtins)
		if err != nil {
			firstErr = fmt.Errorf("path parameter %q: %w", name, err)
			return m
		}
		return url.PathEscape(expr.Stringify(v))
	})
	return out, firstErr
}

func joinURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// send resolves and sends one request. The returned attempt is not yet
// recorded.
func (x *executor) send(ctx context.Context, step api.Step, sc *scope.Scope, iteration, poll int) (*api.Response, api.Attempt, error) {
	at := api.Attempt{
		StartedAt:  x.clock.Now(),
		Iteration:  iteration,
		Poll:       poll,
		Validation: api.PassVerdict(),
	}

	req, err := x.resolveRequest(step, sc)
	if err != nil {
		at.Error = err.Error()
		at.Validation = api.Verdict{Diagnostics: []api.Diagnostic{{
			Category: api.CategoryRequest,
			Message:  err.Error(),
		}}}
		return nil, at, err
	}
	at.Request = &req

	resp, err := x.transport.Send(ctx, req)
	at.Duration = x.clock.Now().Sub(at.StartedAt)
	if err != nil {
		if cause := interrupted(ctx, x.clock); cause != nil {
			err = cause
		} else {
			err = &api.TransportError{Method: req.Method, URL: req.URL, Err: err}
		}
		at.Error = err.Error()
		at.Validation = api.Verdict{}
		return nil, at, err
	}
	if resp.Latency == 0 {
		resp.Latency = at.Duration
	}
	at.StatusCode = resp.Status
	return resp, at, nil
}

// check validates resp against the step's expectations and stores the
// verdict on at.
func (x *executor) check(step api.Step, resp *api.Response, sc *scope.Scope, at *api.Attempt) error {
	verdict := x.validator.Validate(step.Expect, resp, sc)
	at.Validation = verdict
	if verdict.Passed {
		return nil
	}
	err := &api.ValidationError{Verdict: verdict}
	at.Error = err.Error()
	return err
}
