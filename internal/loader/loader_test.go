package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/apiflow/pkg/api"
)

const usersYAML = `
variables:
  base: /api
  tenant: default
workflows:
  - name: users
    description: user lifecycle
    tags: [crud, smoke]
    variables:
      tenant: acme
    settings:
      timeout: 2m
      parallel_steps: true
      max_parallel: 3
      fail_fast: true
    setup:
      - name: login
        endpoint: POST ${base}/login
        request:
          body: {user: admin}
        extract:
          token: $.token
    steps:
      - name: create_user
        endpoint: POST ${base}/users
        request:
          headers: {Authorization: "Bearer ${token}"}
          body:
            name: Ada
            tags: [a, b]
          content_type: application/json
        expect:
          status: 201
          body:
            id: type:integer
          response_time_ms: 500
        extract:
          user_id: $.id
        retry:
          max_attempts: 4
          delay: 0.5
          backoff: 2
          max: 5s
      - name: get_user
        endpoint: ${base}/users/{id}
        depends_on: [create_user]
        condition: ${user_id} != null
        request:
          path: {id: "${user_id}"}
          query: {expand: profile}
        expect:
          status: [200, 304]
          headers: {Content-Type: "regex:application/json"}
          custom: ["response.body.id == ${user_id}"]
        on_failure: continue
        timeout: 10
        defaults: {email: unknown}
      - name: list_pages
        endpoint: GET ${base}/users?page=${page}
        depends_on: [create_user]
        loop:
          over: pages
          as: page
          until: response.body.last == true
          delay: 100ms
      - name: wait_export
        endpoint: GET ${base}/exports/1
        poll:
          interval: 2
          timeout: 30s
          initial_delay: 1s
          until: {body: {state: [done, failed]}}
          while: {status: 202}
          on_timeout: continue
        ignore_failure: true
    teardown:
      - name: delete_user
        endpoint: DELETE ${base}/users/${user_id}
        variables:
          reason: cleanup
`

func TestParse(t *testing.T) {
	f, err := ParseBytes([]byte(usersYAML))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"base": "/api", "tenant": "default"}, f.Variables)
	require.Len(t, f.Workflows, 1)

	wf := f.Workflows[0]
	assert.Equal(t, "users", wf.Name)
	assert.Equal(t, []string{"crud", "smoke"}, wf.Tags)
	assert.Equal(t, map[string]any{"base": "/api", "tenant": "acme"}, wf.Variables)
	assert.Equal(t, api.Settings{Timeout: 2 * time.Minute, MaxParallel: 3, FailFast: true, Parallel: true}, wf.Settings)

	require.Len(t, wf.Setup, 1)
	require.Len(t, wf.Steps, 4)
	require.Len(t, wf.Teardown, 1)

	t.Run("Should convert requests and expectations", func(t *testing.T) {
		create := wf.Steps[0]
		assert.Equal(t, api.Endpoint{Method: "POST", Path: "${base}/users"}, create.Endpoint)
		assert.Equal(t, map[string]string{"Authorization": "Bearer ${token}"}, create.Request.Headers)
		assert.Equal(t, map[string]any{"name": "Ada", "tags": []any{"a", "b"}}, create.Request.Body)
		assert.Equal(t, "application/json", create.Request.ContentType)
		assert.Equal(t, []int{201}, create.Expect.Status)
		assert.Equal(t, map[string]any{"id": "type:integer"}, create.Expect.Body)
		assert.Equal(t, 500, create.Expect.ResponseTime)
		assert.Equal(t, map[string]string{"user_id": "$.id"}, create.Extract)
		assert.Equal(t, &api.RetrySpec{
			MaxAttempts: 4,
			Backoff:     api.BackoffExponential,
			Initial:     500 * time.Millisecond,
			Max:         5 * time.Second,
		}, create.Retry)
	})

	t.Run("Should convert dependencies and policies", func(t *testing.T) {
		get := wf.Steps[1]
		assert.Equal(t, "GET", get.Endpoint.Method)
		assert.Equal(t, []string{"create_user"}, get.DependsOn)
		assert.Equal(t, "${user_id} != null", get.Condition)
		assert.Equal(t, map[string]any{"id": "${user_id}"}, get.Request.PathParams)
		assert.Equal(t, []int{200, 304}, get.Expect.Status)
		assert.Equal(t, api.OnFailureContinue, get.OnFailure)
		assert.Equal(t, 10*time.Second, get.Timeout)
		assert.Equal(t, map[string]any{"email": "unknown"}, get.Defaults)
	})

	t.Run("Should convert loops and polls", func(t *testing.T) {
		assert.Equal(t, &api.LoopSpec{
			Over: "pages", As: "page", Until: "response.body.last == true", Delay: 100 * time.Millisecond,
		}, wf.Steps[2].Loop)

		wait := wf.Steps[3]
		assert.True(t, wait.IgnoreFailure)
		assert.Equal(t, &api.PollSpec{
			Interval:     2 * time.Second,
			Timeout:      30 * time.Second,
			InitialDelay: time.Second,
			Until:        &api.PollCondition{Body: map[string]any{"state": []any{"done", "failed"}}},
			While:        &api.PollCondition{Status: []int{202}},
			OnTimeout:    api.PollTimeoutContinue,
		}, wait.Poll)
	})

	t.Run("Should keep step variables", func(t *testing.T) {
		assert.Equal(t, map[string]any{"reason": "cleanup"}, wf.Teardown[0].Variables)
	})
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"unnamed workflow", "workflows:\n  - steps: []\n", "must have a name"},
		{"unnamed step", "workflows:\n  - name: w\n    steps:\n      - endpoint: /a\n", "step must have a name"},
		{"missing endpoint", "workflows:\n  - name: w\n    steps:\n      - name: a\n", "must have an endpoint"},
		{"bad method", "workflows:\n  - name: w\n    steps:\n      - name: a\n        endpoint: FETCH /a\n", "invalid HTTP method"},
		{"bad policy", "workflows:\n  - name: w\n    steps:\n      - name: a\n        endpoint: /a\n        on_failure: explode\n", "invalid on_failure"},
		{"empty loop", "workflows:\n  - name: w\n    steps:\n      - name: a\n        endpoint: /a\n        loop: {as: x}\n", "count or over"},
		{"bad duration", "workflows:\n  - name: w\n    steps:\n      - name: a\n        endpoint: /a\n        timeout: soon\n", "invalid duration"},
		{"unknown field", "workflows:\n  - name: w\n    stepz: []\n", "stepz"},
		{"missing dependency", "workflows:\n  - name: w\n    steps:\n      - name: a\n        endpoint: /a\n        depends_on: [b]\n", "unknown step"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBytes([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("Should expose definition errors", func(t *testing.T) {
		src := "workflows:\n  - name: w\n    steps:\n      - {name: a, endpoint: /a, depends_on: [b]}\n      - {name: b, endpoint: /b, depends_on: [a]}\n"
		_, err := ParseBytes([]byte(src))
		var de *api.DefinitionError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, api.CyclicDependency, de.Kind)
		assert.Contains(t, err.Error(), `workflow "w"`)
	})

	t.Run("Should accept empty documents", func(t *testing.T) {
		f, err := ParseBytes(nil)
		require.NoError(t, err)
		assert.Empty(t, f.Workflows)
	})
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}
	write("b.yaml", "workflows:\n  - {name: beta, tags: [slow], steps: [{name: s, endpoint: /s}]}\n")
	write("a.yml", "workflows:\n  - {name: alpha, tags: [fast]}\n  - {name: gamma, tags: [fast, slow]}\n")
	write("notes.txt", "ignored")

	t.Run("Should read directories in name order", func(t *testing.T) {
		wfs, err := Load(Filter{}, dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "gamma", "beta"}, names(wfs))
	})

	t.Run("Should filter", func(t *testing.T) {
		wfs, err := Load(Filter{Tags: []string{"slow"}, Exclude: []string{"beta"}}, dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"gamma"}, names(wfs))

		wfs, err = Load(Filter{Include: []string{"beta"}}, dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"beta"}, names(wfs))
	})

	t.Run("Should reject duplicate names across files", func(t *testing.T) {
		dup := write("c.yaml", "workflows:\n  - {name: alpha}\n")
		defer os.Remove(dup)
		_, err := Load(Filter{}, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already defined")
	})

	t.Run("Should name the file in errors", func(t *testing.T) {
		bad := write("zz.yaml", "workflows: [")
		defer os.Remove(bad)
		_, err := Load(Filter{}, bad)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), bad))
	})

	t.Run("Should report missing paths", func(t *testing.T) {
		_, err := Load(Filter{}, filepath.Join(dir, "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func names(wfs []api.Workflow) []string {
	out := make([]string, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, wf.Name)
	}
	return out
}
