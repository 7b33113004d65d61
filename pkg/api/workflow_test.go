package api

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want Endpoint
	}{
		{"POST /users", Endpoint{Method: "POST", Path: "/users"}},
		{"get /users/{id}", Endpoint{Method: "GET", Path: "/users/{id}"}},
		{"/health", Endpoint{Method: "GET", Path: "/health"}},
		{"", Endpoint{Method: "GET", Path: "/"}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseEndpoint(tc.in))
		})
	}
	assert.Equal(t, "DELETE /users/1", Endpoint{Method: "DELETE", Path: "/users/1"}.String())
}

func TestStepPolicies(t *testing.T) {
	t.Run("Should default to abort", func(t *testing.T) {
		assert.Equal(t, OnFailureAbort, Step{}.FailurePolicy())
		assert.Nil(t, Step{}.EffectiveRetry())
	})

	t.Run("Should fall back to default retry spec", func(t *testing.T) {
		r := Step{OnFailure: OnFailureRetry}.EffectiveRetry()
		require.NotNil(t, r)
		assert.Equal(t, 3, r.MaxAttempts)
		assert.Equal(t, BackoffFixed, r.Backoff)
		assert.Equal(t, time.Second, r.Initial)
	})

	t.Run("Should prefer declared retry spec", func(t *testing.T) {
		spec := &RetrySpec{MaxAttempts: 5}
		assert.Same(t, spec, Step{Retry: spec}.EffectiveRetry())
	})

	t.Run("Should name loop var item by default", func(t *testing.T) {
		assert.Equal(t, "item", LoopSpec{}.Var())
		assert.Equal(t, "user", LoopSpec{As: "user"}.Var())
	})
}

func TestWorkflowResultSummary(t *testing.T) {
	res := &WorkflowResult{
		Setup: []StepResult{{Name: "login", Status: StepSuccess}},
		Steps: []StepResult{
			{Name: "a", Status: StepSuccess},
			{Name: "b", Status: StepFailed},
			{Name: "c", Status: StepTimedOut},
			{Name: "d", Status: StepSkipped},
		},
		Teardown: []StepResult{{Name: "cleanup", Status: StepSuccess}},
	}

	assert.Equal(t, Summary{Total: 6, Passed: 3, Failed: 2, Skipped: 1}, res.Summary())

	sr, ok := res.Step("cleanup")
	require.True(t, ok)
	assert.Equal(t, StepSuccess, sr.Status)

	_, ok = res.Step("missing")
	assert.False(t, ok)

	names := make([]string, 0)
	for _, r := range res.AllResults() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"login", "a", "b", "c", "d", "cleanup"}, names)
}

func TestExecutionPlanLevelOf(t *testing.T) {
	p := &ExecutionPlan{Levels: [][]string{{"a", "b"}, {"c"}}}
	assert.Equal(t, 0, p.LevelOf("b"))
	assert.Equal(t, 1, p.LevelOf("c"))
	assert.Equal(t, -1, p.LevelOf("z"))
}

func TestErrors(t *testing.T) {
	t.Run("Should describe cycles", func(t *testing.T) {
		err := &DefinitionError{Kind: CyclicDependency, Cycle: []string{"a", "b", "a"}}
		assert.Equal(t, "cyclic dependency: a -> b -> a", err.Error())
	})

	t.Run("Should detect undefined variables through wrapping", func(t *testing.T) {
		err := fmt.Errorf("condition: %w", &EvaluationError{Kind: UndefinedVariable, Name: "flag"})
		assert.True(t, IsUndefinedVariable(err))
		assert.False(t, IsUndefinedVariable(errors.New("x")))
	})

	t.Run("Should detect workflow timeouts", func(t *testing.T) {
		err := fmt.Errorf("run: %w", &WorkflowTimeoutError{Workflow: "wf", Timeout: time.Second})
		assert.True(t, IsWorkflowTimeout(err))
	})

	t.Run("Should unwrap transport errors", func(t *testing.T) {
		inner := errors.New("connection refused")
		err := &TransportError{Method: "GET", URL: "http://x", Err: inner}
		assert.ErrorIs(t, err, inner)
	})

	t.Run("Should summarise validation errors", func(t *testing.T) {
		err := &ValidationError{Verdict: Verdict{Diagnostics: []Diagnostic{
			{Category: CategoryStatus, Path: "/status", Expected: "201", Actual: 500},
			{Category: CategoryBody, Path: "/body/id", Message: "missing"},
		}}}
		assert.Equal(t, "validation failed at /status: expected 201, got 500 (and 1 more)", err.Error())
	})
}

func TestResponseHeader(t *testing.T) {
	r := &Response{Headers: map[string]string{"Content-Type": "application/json"}}
	v, ok := r.Header("content-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", v)
	_, ok = r.Header("X-Missing")
	assert.False(t, ok)
}

func TestBuiltinsMerge(t *testing.T) {
	one := func(BuiltinCall) (any, error) { return 1, nil }
	two := func(BuiltinCall) (any, error) { return 2, nil }
	merged := Builtins{"a": one, "b": one}.Merge(Builtins{"b": two})
	v, _ := merged["b"](BuiltinCall{})
	assert.Equal(t, 2, v)
	assert.Len(t, merged, 2)
}
