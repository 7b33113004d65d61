package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/apiflow/internal/persistence"
	"github.com/petrijr/apiflow/internal/testutil"
	"github.com/petrijr/apiflow/pkg/api"
)

func TestRunChainsExtractedValues(t *testing.T) {
	tr := newFakeTransport().
		on("POST /users", status(201, map[string]any{"id": 7})).
		on("GET /users/7", ok(map[string]any{"id": 7, "name": "T"}))
	eng := newTestEngine(t, tr)

	create := step("create_user", "POST /users")
	create.Request = &api.RequestSpec{Body: map[string]any{"name": "${name}"}}
	create.Expect = &api.ExpectSpec{Status: []int{201}}
	create.Extract = map[string]string{"user_id": "$.id"}

	get := step("get_user", "GET /users/{id}")
	get.DependsOn = []string{"create_user"}
	get.Request = &api.RequestSpec{PathParams: map[string]any{"id": "${user_id}"}}
	get.Expect = &api.ExpectSpec{Body: map[string]any{"name": "${name}"}}

	wf := api.Workflow{Name: "users", Variables: map[string]any{"name": "T"}, Steps: []api.Step{create, get}}

	res, err := eng.Run(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, res.Status)
	assert.Equal(t, []string{"POST /users", "GET /users/7"}, tr.sent())

	req, found := tr.last("POST /users")
	require.True(t, found)
	assert.Equal(t, map[string]any{"name": "T"}, req.Body)

	created, _ := res.Step("create_user")
	assert.Equal(t, map[string]any{"user_id": float64(7)}, created.Extracted)
	require.Len(t, created.Attempts, 1)
	assert.Equal(t, 201, created.Attempts[0].StatusCode)
	assert.Equal(t, -1, created.Attempts[0].Iteration)
}

func TestRunVariablesOverrideWorkflowVariables(t *testing.T) {
	tr := newFakeTransport().on("GET /users/2", ok(map[string]any{}))
	eng := newTestEngine(t, tr)

	s := step("get", "GET /users/${id}")
	wf := api.Workflow{Name: "vars", Variables: map[string]any{"id": 1}, Steps: []api.Step{s}}

	res, err := eng.Run(context.Background(), wf, map[string]any{"id": 2})
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, res.Status)
	assert.Equal(t, []string{"GET /users/2"}, tr.sent())
}

func TestPlan(t *testing.T) {
	eng := newTestEngine(t, newFakeTransport())

	a := step("a", "/a")
	b := step("b", "/b")
	c := step("c", "/c")
	c.DependsOn = []string{"a", "b"}
	d := step("d", "/d")
	d.DependsOn = []string{"a"}

	plan, err := eng.Plan(api.Workflow{Name: "p", Steps: []api.Step{a, b, c, d}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, plan.Levels)
}

func TestRunRejectsCycles(t *testing.T) {
	tr := newFakeTransport().on("DELETE /tmp", ok(nil))
	eng := newTestEngine(t, tr)

	a := step("a", "/a")
	a.DependsOn = []string{"b"}
	b := step("b", "/b")
	b.DependsOn = []string{"a"}
	cleanup := step("cleanup", "DELETE /tmp")

	wf := api.Workflow{Name: "cycle", Steps: []api.Step{a, b}, Teardown: []api.Step{cleanup}}
	res, err := eng.Run(context.Background(), wf, nil)

	var de *api.DefinitionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, api.CyclicDependency, de.Kind)
	assert.Contains(t, de.Cycle, "a")
	assert.Contains(t, de.Cycle, "b")

	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Equal(t, []string{"DELETE /tmp"}, tr.sent())
	assert.Equal(t, map[string]api.StepStatus{
		"a": api.StepSkipped, "b": api.StepSkipped, "cleanup": api.StepSuccess,
	}, statuses(res.AllResults()))
}

func TestRunAbortsOnFailure(t *testing.T) {
	tr := newFakeTransport().
		on("GET /a", status(500, nil)).
		on("DELETE /tmp", ok(nil))
	eng := newTestEngine(t, tr)

	b := step("b", "/b")
	b.DependsOn = []string{"a"}
	c := step("c", "/c")
	c.DependsOn = []string{"b"}
	wf := api.Workflow{
		Name:     "abort",
		Steps:    []api.Step{step("a", "/a"), b, c},
		Teardown: []api.Step{step("cleanup", "DELETE /tmp")},
	}

	res, err := eng.Run(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Contains(t, res.Error, `step "a"`)
	assert.Equal(t, []string{"GET /a", "DELETE /tmp"}, tr.sent())
	assert.Equal(t, map[string]api.StepStatus{
		"a": api.StepFailed, "b": api.StepSkipped, "c": api.StepSkipped, "cleanup": api.StepSuccess,
	}, statuses(res.AllResults()))

	failed, _ := res.Step("a")
	require.NotEmpty(t, failed.Diagnostics)
	assert.Equal(t, "/status", failed.Diagnostics[0].Path)
}

func TestRunContinuePolicy(t *testing.T) {
	t.Run("Should report unbound references downstream", func(t *testing.T) {
		tr := newFakeTransport().on("POST /a", status(500, nil))
		eng := newTestEngine(t, tr)

		a := step("a", "POST /a")
		a.OnFailure = api.OnFailureContinue
		a.Extract = map[string]string{"id": "$.id"}
		b := step("b", "GET /b/${id}")
		b.DependsOn = []string{"a"}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{a, b}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, res.Status)

		got, _ := res.Step("b")
		assert.Equal(t, api.StepFailed, got.Status)
		assert.Contains(t, got.Error, "UndefinedVariable")
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, api.CategoryRequest, got.Attempts[0].Validation.Diagnostics[0].Category)
		assert.Equal(t, []string{"POST /a"}, tr.sent())
	})

	t.Run("Should publish defaults for failed steps", func(t *testing.T) {
		tr := newFakeTransport().
			on("POST /a", status(500, nil)).
			on("GET /b/0", ok(nil))
		eng := newTestEngine(t, tr)

		a := step("a", "POST /a")
		a.OnFailure = api.OnFailureContinue
		a.Extract = map[string]string{"id": "$.id"}
		a.Defaults = map[string]any{"id": 0}
		b := step("b", "GET /b/${id}")
		b.DependsOn = []string{"a"}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{a, b}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, res.Status)
		got, _ := res.Step("b")
		assert.Equal(t, api.StepSuccess, got.Status)
	})

	t.Run("Should succeed when failures are ignored", func(t *testing.T) {
		tr := newFakeTransport().on("GET /a", status(500, nil))
		eng := newTestEngine(t, tr)

		a := step("a", "/a")
		a.IgnoreFailure = true
		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{a}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.True(t, res.Steps[0].Ignored)
		assert.Equal(t, api.StepFailed, res.Steps[0].Status)
	})

	t.Run("Should abort under fail fast", func(t *testing.T) {
		tr := newFakeTransport().on("GET /a", status(500, nil))
		eng := newTestEngine(t, tr)

		a := step("a", "/a")
		a.OnFailure = api.OnFailureContinue
		b := step("b", "/b")
		b.DependsOn = []string{"a"}
		wf := api.Workflow{Name: "c", Settings: api.Settings{FailFast: true}, Steps: []api.Step{a, b}}

		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepSkipped, res.Steps[1].Status)
	})
}

func TestRunRetries(t *testing.T) {
	t.Run("Should stop after max attempts with fixed backoff", func(t *testing.T) {
		tr := newFakeTransport().on("GET /flaky", status(503, nil))
		eng := newTestEngine(t, tr)

		s := step("flaky", "/flaky")
		s.Retry = &api.RetrySpec{MaxAttempts: 3, Backoff: api.BackoffFixed, Initial: time.Second}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "r", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, res.Status)
		assert.Equal(t, api.StepFailed, res.Steps[0].Status)
		assert.Len(t, res.Steps[0].Attempts, 3)
		assert.Equal(t, []time.Duration{time.Second, time.Second}, eng.clock.Sleeps())
	})

	t.Run("Should cap exponential backoff", func(t *testing.T) {
		tr := newFakeTransport().on("GET /flaky", status(503, nil))
		eng := newTestEngine(t, tr)

		s := step("flaky", "/flaky")
		s.Retry = &api.RetrySpec{MaxAttempts: 4, Backoff: api.BackoffExponential, Initial: time.Second, Max: 3 * time.Second}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "r", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Len(t, res.Steps[0].Attempts, 4)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, eng.clock.Sleeps())
	})

	t.Run("Should succeed on a later attempt", func(t *testing.T) {
		tr := newFakeTransport().on("GET /flaky",
			reply{err: errors.New("connection reset")},
			ok(map[string]any{"id": 1}))
		eng := newTestEngine(t, tr)

		s := step("flaky", "/flaky")
		s.OnFailure = api.OnFailureRetry
		s.Extract = map[string]string{"id": "$.id"}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "r", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		require.Len(t, res.Steps[0].Attempts, 2)
		assert.Contains(t, res.Steps[0].Attempts[0].Error, "connection reset")
		assert.Equal(t, map[string]any{"id": float64(1)}, res.Steps[0].Extracted)
	})

	t.Run("Should not retry extraction errors", func(t *testing.T) {
		tr := newFakeTransport().on("GET /a", ok(map[string]any{}))
		eng := newTestEngine(t, tr)

		s := step("a", "/a")
		s.OnFailure = api.OnFailureRetry
		s.Extract = map[string]string{"id": "$.id"}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "r", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepFailed, res.Steps[0].Status)
		assert.Len(t, res.Steps[0].Attempts, 1)
		assert.Contains(t, res.Steps[0].Error, "extraction")
	})
}

func TestRunLoops(t *testing.T) {
	t.Run("Should repeat a counted loop", func(t *testing.T) {
		tr := newFakeTransport()
		for i, id := range []int{10, 11, 12} {
			tr.on(fmt.Sprintf("GET /items/%d", i), ok(map[string]any{"id": id}))
		}
		eng := newTestEngine(t, tr)

		s := step("items", "/items/${i}")
		s.Loop = &api.LoopSpec{Count: 3, As: "i"}
		s.Extract = map[string]string{"ids": "$.id"}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "l", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.Equal(t, []string{"GET /items/0", "GET /items/1", "GET /items/2"}, tr.sent())
		assert.Equal(t, map[string]any{"ids": []any{float64(10), float64(11), float64(12)}}, res.Steps[0].Extracted)

		var iterations []int
		for _, at := range res.Steps[0].Attempts {
			iterations = append(iterations, at.Iteration)
		}
		assert.Equal(t, []int{0, 1, 2}, iterations)
	})

	t.Run("Should iterate over a sequence until satisfied", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /p/a", ok(map[string]any{"last": false})).
			on("GET /p/b", ok(map[string]any{"last": true}))
		eng := newTestEngine(t, tr)

		s := step("pages", "/p/${page}")
		s.Loop = &api.LoopSpec{Over: "pages", As: "page", Until: "response.body.last == true", Delay: time.Second}

		wf := api.Workflow{Name: "l", Variables: map[string]any{"pages": []any{"a", "b", "c"}}, Steps: []api.Step{s}}
		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.Equal(t, []string{"GET /p/a", "GET /p/b"}, tr.sent())
		assert.Equal(t, []time.Duration{time.Second}, eng.clock.Sleeps())
	})

	t.Run("Should succeed on an empty sequence", func(t *testing.T) {
		tr := newFakeTransport()
		eng := newTestEngine(t, tr)

		s := step("none", "/x/${item}")
		s.Loop = &api.LoopSpec{Over: "${empty}"}
		s.Extract = map[string]string{"ids": "$.id"}

		wf := api.Workflow{Name: "l", Variables: map[string]any{"empty": []any{}}, Steps: []api.Step{s}}
		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepSuccess, res.Steps[0].Status)
		assert.Equal(t, map[string]any{"ids": []any{}}, res.Steps[0].Extracted)
		assert.Empty(t, tr.sent())
	})

	t.Run("Should iterate a single value once", func(t *testing.T) {
		tr := newFakeTransport().on("GET /x/3", ok(map[string]any{"id": 3}))
		eng := newTestEngine(t, tr)

		s := step("single", "/x/${n}")
		s.Loop = &api.LoopSpec{Over: "n", As: "n"}
		s.Extract = map[string]string{"ids": "$.id"}
		wf := api.Workflow{Name: "l", Variables: map[string]any{"n": 3}, Steps: []api.Step{s}}

		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepSuccess, res.Steps[0].Status)
		assert.Equal(t, []string{"GET /x/3"}, tr.sent())
		assert.Equal(t, map[string]any{"ids": []any{float64(3)}}, res.Steps[0].Extracted)
	})
}

func TestRunPolls(t *testing.T) {
	pollStep := func() api.Step {
		s := step("wait", "/jobs/1")
		s.Poll = &api.PollSpec{
			Interval: 2 * time.Second,
			Timeout:  5 * time.Second,
			Until:    &api.PollCondition{Body: map[string]any{"state": "done"}},
		}
		return s
	}

	t.Run("Should poll until the condition holds", func(t *testing.T) {
		tr := newFakeTransport().on("GET /jobs/1",
			ok(map[string]any{"state": "processing"}),
			ok(map[string]any{"state": "processing"}),
			ok(map[string]any{"state": "done"}))
		eng := newTestEngine(t, tr)

		res, err := eng.Run(context.Background(), api.Workflow{Name: "p", Steps: []api.Step{pollStep()}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepSuccess, res.Steps[0].Status)
		require.Len(t, res.Steps[0].Attempts, 3)
		assert.Equal(t, 3, res.Steps[0].Attempts[2].Poll)
		assert.True(t, res.Steps[0].Attempts[2].Validation.Passed)
		assert.False(t, res.Steps[0].Attempts[0].Validation.Passed)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, eng.clock.Sleeps())
	})

	t.Run("Should time out", func(t *testing.T) {
		tr := newFakeTransport().on("GET /jobs/1", ok(map[string]any{"state": "processing"}))
		eng := newTestEngine(t, tr)

		res, err := eng.Run(context.Background(), api.Workflow{Name: "p", Steps: []api.Step{pollStep()}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepTimedOut, res.Steps[0].Status)
		assert.Equal(t, api.StatusFailed, res.Status)
		assert.Len(t, res.Steps[0].Attempts, 3)
		assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, time.Second}, eng.clock.Sleeps())
	})

	t.Run("Should continue with the last response", func(t *testing.T) {
		tr := newFakeTransport().on("GET /jobs/1", ok(map[string]any{"state": "processing"}))
		eng := newTestEngine(t, tr)

		s := pollStep()
		s.Poll.OnTimeout = api.PollTimeoutContinue
		res, err := eng.Run(context.Background(), api.Workflow{Name: "p", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepSuccess, res.Steps[0].Status)
	})

	t.Run("Should fail when while stops matching", func(t *testing.T) {
		tr := newFakeTransport().on("GET /jobs/1",
			ok(map[string]any{"state": "processing"}),
			ok(map[string]any{"state": "error"}))
		eng := newTestEngine(t, tr)

		s := pollStep()
		s.Poll.While = &api.PollCondition{Body: map[string]any{"state": "processing"}}
		res, err := eng.Run(context.Background(), api.Workflow{Name: "p", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepFailed, res.Steps[0].Status)
		assert.Equal(t, "/poll/while", res.Steps[0].Diagnostics[0].Path)
	})
}

func TestRunConditions(t *testing.T) {
	t.Run("Should skip steps whose condition is unbound", func(t *testing.T) {
		tr := newFakeTransport()
		eng := newTestEngine(t, tr)

		s := step("gated", "/gated")
		s.Condition = "${flag}"
		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.Equal(t, api.StepSkipped, res.Steps[0].Status)
		assert.Contains(t, res.Steps[0].Error, "UndefinedVariable")
		assert.Empty(t, tr.sent())
	})

	t.Run("Should skip false conditions without an error", func(t *testing.T) {
		eng := newTestEngine(t, newFakeTransport())

		s := step("gated", "/gated")
		s.Condition = "flag == true"
		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{s}}, map[string]any{"flag": false})
		require.NoError(t, err)
		assert.Equal(t, api.StepSkipped, res.Steps[0].Status)
		assert.Empty(t, res.Steps[0].Error)
	})

	t.Run("Should see the status of earlier steps", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /a", status(500, nil)).
			on("GET /recover", ok(nil))
		eng := newTestEngine(t, tr)

		a := step("a", "/a")
		a.OnFailure = api.OnFailureContinue
		recov := step("recover", "/recover")
		recov.DependsOn = []string{"a"}
		recov.Condition = "steps.a.status == 'failed'"

		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{a, recov}}, nil)
		require.NoError(t, err)
		got, _ := res.Step("recover")
		assert.Equal(t, api.StepSuccess, got.Status)
	})

	t.Run("Should see the last response of earlier steps", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /login", ok(map[string]any{"token": "t-1"})).
			on("GET /me/t-1", ok(nil))
		eng := newTestEngine(t, tr)

		login := step("login", "/login")
		me := step("me", "/me/${steps.login.response.body.token}")
		me.DependsOn = []string{"login"}
		me.Condition = "steps.login.response.status == 200"

		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{login, me}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.Equal(t, []string{"GET /login", "GET /me/t-1"}, tr.sent())
	})

	t.Run("Should bind an empty response for skipped steps", func(t *testing.T) {
		tr := newFakeTransport().on("GET /after", ok(nil))
		eng := newTestEngine(t, tr)

		gated := step("gated", "/gated")
		gated.Condition = "false"
		after := step("after", "/after")
		after.DependsOn = []string{"gated"}
		after.Condition = "len(keys(steps.gated.response)) == 0"

		res, err := eng.Run(context.Background(), api.Workflow{Name: "c", Steps: []api.Step{gated, after}}, nil)
		require.NoError(t, err)
		got, _ := res.Step("after")
		assert.Equal(t, api.StepSuccess, got.Status)
	})
}

func TestRunTimeouts(t *testing.T) {
	t.Run("Should time out the workflow", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /slow", status(503, nil)).
			on("DELETE /tmp", ok(nil))
		eng := newTestEngine(t, tr)

		slow := step("slow", "/slow")
		slow.Retry = &api.RetrySpec{MaxAttempts: 5, Backoff: api.BackoffFixed, Initial: 3 * time.Second}
		next := step("next", "/next")
		next.DependsOn = []string{"slow"}
		wf := api.Workflow{
			Name:     "t",
			Settings: api.Settings{Timeout: 5 * time.Second},
			Steps:    []api.Step{slow, next},
			Teardown: []api.Step{step("cleanup", "DELETE /tmp")},
		}

		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusTimedOut, res.Status)
		assert.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second}, eng.clock.Sleeps())
		assert.Equal(t, map[string]api.StepStatus{
			"slow": api.StepTimedOut, "next": api.StepSkipped, "cleanup": api.StepSuccess,
		}, statuses(res.AllResults()))
	})

	t.Run("Should time out a single step", func(t *testing.T) {
		tr := newFakeTransport().on("GET /slow", status(503, nil))
		eng := newTestEngine(t, tr)

		s := step("slow", "/slow")
		s.Timeout = 2 * time.Second
		s.Retry = &api.RetrySpec{MaxAttempts: 5, Initial: 3 * time.Second}

		res, err := eng.Run(context.Background(), api.Workflow{Name: "t", Steps: []api.Step{s}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StepTimedOut, res.Steps[0].Status)
		assert.Equal(t, api.StatusFailed, res.Status)
		assert.Equal(t, []time.Duration{2 * time.Second}, eng.clock.Sleeps())
	})
}

func TestRunSetupFailureSkipsMain(t *testing.T) {
	tr := newFakeTransport().
		on("POST /login", status(401, nil)).
		on("POST /logout", ok(nil))
	eng := newTestEngine(t, tr)

	wf := api.Workflow{
		Name:     "s",
		Setup:    []api.Step{step("login", "POST /login"), step("seed", "POST /seed")},
		Steps:    []api.Step{step("work", "/work")},
		Teardown: []api.Step{step("logout", "POST /logout")},
	}
	res, err := eng.Run(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Equal(t, []string{"POST /login", "POST /logout"}, tr.sent())
	assert.Equal(t, map[string]api.StepStatus{
		"login": api.StepFailed, "seed": api.StepSkipped, "work": api.StepSkipped, "logout": api.StepSuccess,
	}, statuses(res.AllResults()))
}

func TestRunTeardownFailuresAreIgnored(t *testing.T) {
	tr := newFakeTransport().
		on("GET /a", ok(nil)).
		on("DELETE /x", status(500, nil)).
		on("DELETE /y", ok(nil))
	eng := newTestEngine(t, tr)

	wf := api.Workflow{
		Name:     "td",
		Steps:    []api.Step{step("a", "/a")},
		Teardown: []api.Step{step("x", "DELETE /x"), step("y", "DELETE /y")},
	}
	res, err := eng.Run(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, res.Status)
	require.Len(t, res.Teardown, 2)
	assert.True(t, res.Teardown[0].Ignored)
	assert.Equal(t, api.StepSuccess, res.Teardown[1].Status)
}

func TestRunParallelLevels(t *testing.T) {
	t.Run("Should hide same-level extractions until the barrier", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /a", ok(map[string]any{"token": "t"})).
			on("GET /c/t", ok(nil))
		eng := newTestEngine(t, tr)

		a := step("a", "/a")
		a.Extract = map[string]string{"token": "$.token"}
		b := step("b", "/b/${token}")
		c := step("c", "/c/${token}")
		c.DependsOn = []string{"a"}
		b.OnFailure = api.OnFailureContinue

		wf := api.Workflow{Name: "par", Settings: api.Settings{Parallel: true, MaxParallel: 2}, Steps: []api.Step{a, b, c}}
		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b", "c"}, []string{res.Steps[0].Name, res.Steps[1].Name, res.Steps[2].Name})
		assert.Equal(t, map[string]api.StepStatus{
			"a": api.StepSuccess, "b": api.StepFailed, "c": api.StepSuccess,
		}, statuses(res.Steps))
		assert.Contains(t, res.Steps[1].Error, "UndefinedVariable")
	})

	t.Run("Should publish extractions immediately when sequential", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /a", ok(map[string]any{"token": "t"})).
			on("GET /b/t", ok(nil))
		eng := newTestEngine(t, tr)

		a := step("a", "/a")
		a.Extract = map[string]string{"token": "$.token"}
		b := step("b", "/b/${token}")

		res, err := eng.Run(context.Background(), api.Workflow{Name: "seq", Steps: []api.Step{a, b}}, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusSuccess, res.Status)
		assert.Equal(t, []string{"GET /a", "GET /b/t"}, tr.sent())
	})

	t.Run("Should cancel siblings on abort", func(t *testing.T) {
		tr := newFakeTransport().
			on("GET /fail", status(500, nil)).
			on("GET /hang", reply{block: true})
		eng := newTestEngine(t, tr)

		wf := api.Workflow{
			Name:     "par",
			Settings: api.Settings{Parallel: true, MaxParallel: 2},
			Steps:    []api.Step{step("hang", "/hang"), step("fail", "/fail")},
		}
		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)
		assert.Equal(t, api.StatusFailed, res.Status)
		assert.Equal(t, map[string]api.StepStatus{
			"hang": api.StepSkipped, "fail": api.StepFailed,
		}, statuses(res.Steps))
	})
}

func TestRunRecordsEventsAndMetrics(t *testing.T) {
	tr := newFakeTransport().
		on("GET /a", ok(nil)).
		on("GET /b", status(500, nil))
	eng := newTestEngine(t, tr)

	b := step("b", "/b")
	b.DependsOn = []string{"a"}
	b.OnFailure = api.OnFailureContinue
	c := step("c", "/c")
	c.Condition = "false"

	res, err := eng.Run(context.Background(), api.Workflow{Name: "ev", Steps: []api.Step{step("a", "/a"), b, c}}, nil)
	require.NoError(t, err)

	events, err := eng.ListEvents(context.Background(), res.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, api.EventWorkflowStarted, events[0].Type)
	assert.Equal(t, api.EventPlanBuilt, events[1].Type)
	assert.Equal(t, api.EventWorkflowFailed, events[len(events)-1].Type)

	var failedSteps []string
	for _, ev := range events {
		assert.Equal(t, res.ID, ev.RunID)
		if ev.Type == api.EventStepFailed {
			failedSteps = append(failedSteps, ev.Step)
		}
	}
	assert.Equal(t, []string{"b"}, failedSteps)

	snap := eng.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.WorkflowsStarted)
	assert.EqualValues(t, 1, snap.WorkflowsFailed)
	assert.EqualValues(t, 1, snap.StepsSucceeded)
	assert.EqualValues(t, 1, snap.StepsFailed)
	assert.EqualValues(t, 1, snap.StepsSkipped)
	assert.EqualValues(t, 2, snap.Attempts)
}

type brokenEventStore struct{}

func (brokenEventStore) AppendEvent(context.Context, api.RunEvent) error {
	return errors.New("event store offline")
}

func (brokenEventStore) ListEvents(context.Context, string) ([]api.RunEvent, error) {
	return nil, errors.New("event store offline")
}

func TestRunLogsEventStoreFailures(t *testing.T) {
	var buf bytes.Buffer
	eng := newTestEngine(t, newFakeTransport().on("GET /a", ok(nil)), func(c *Config) {
		c.Persistence.Events = brokenEventStore{}
		c.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	res, err := eng.Run(context.Background(), api.Workflow{Name: "ev", Steps: []api.Step{step("a", "/a")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StatusSuccess, res.Status)
	assert.Contains(t, buf.String(), "append run event failed")
	assert.Contains(t, buf.String(), "event store offline")
}

func TestRunStoresResults(t *testing.T) {
	wf := api.Workflow{Name: "stored", Steps: []api.Step{step("a", "/a")}}
	tr := newFakeTransport().on("GET /a", ok(nil))

	check := func(t *testing.T, eng api.Engine) {
		res, err := eng.Run(context.Background(), wf, nil)
		require.NoError(t, err)

		got, err := eng.GetResult(context.Background(), res.ID)
		require.NoError(t, err)
		assert.Equal(t, res.ID, got.ID)
		assert.Equal(t, api.StatusSuccess, got.Status)
		require.Len(t, got.Steps, 1)
		assert.Equal(t, "a", got.Steps[0].Name)

		list, err := eng.ListResults(context.Background(), api.ResultListOptions{WorkflowName: "stored"})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = eng.GetResult(context.Background(), "missing")
		assert.ErrorIs(t, err, persistence.ErrResultNotFound)
	}

	cfg := func() Config {
		return Config{Transport: tr, Clock: newFakeClock(), RNG: api.NewLockedRNG(1)}
	}

	t.Run("Should use memory", func(t *testing.T) {
		check(t, NewInMemoryEngine(cfg()))
	})

	t.Run("Should use sqlite", func(t *testing.T) {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		eng, err := NewSQLiteEngine(db, cfg())
		require.NoError(t, err)
		check(t, eng)
	})

	t.Run("Should use redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		eng := NewRedisEngine(client, "apiflow:test:", cfg())
		check(t, eng)
		assert.NotEmpty(t, mr.Keys())
	})

	t.Run("Should use postgres", func(t *testing.T) {
		eng, err := NewPostgresEngine(context.Background(), testutil.PostgresDB(t), cfg())
		require.NoError(t, err)
		check(t, eng)
	})

	t.Run("Should use mongo", func(t *testing.T) {
		client, db := testutil.MongoDatabase(t)
		eng, err := NewMongoEngine(context.Background(), client, db, cfg())
		require.NoError(t, err)
		check(t, eng)
	})
}

func TestRunWithoutTransport(t *testing.T) {
	eng := NewEngineWithConfig(Config{Clock: newFakeClock()})
	res, err := eng.Run(context.Background(), api.Workflow{Name: "none", Steps: []api.Step{step("a", "/a")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, api.StepFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Error, ErrNoTransport.Error())
}
