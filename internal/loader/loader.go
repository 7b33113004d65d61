// Package loader reads workflow definitions from YAML files.
//
// A file holds a list of workflows plus optional file-level variables that
// every workflow in the file inherits:
//
//	variables:
//	  base: /api
//	workflows:
//	  - name: users
//	    steps:
//	      - name: create_user
//	        endpoint: POST ${base}/users
//	        extract: {user_id: $.id}
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/apiflow/internal/graph"
	"github.com/petrijr/apiflow/pkg/api"
)

var validMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// ParseError reports a definition that could not be read.
type ParseError struct {
	File     string
	Workflow string
	Step     string
	Err      error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Workflow != "" {
		fmt.Fprintf(&b, "workflow %q: ", e.Workflow)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, "step %q: ", e.Step)
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// File is a parsed definition file.
type File struct {
	Path      string
	Variables map[string]any
	Workflows []api.Workflow
}

// Filter selects workflows by name and tag. Empty fields select everything.
type Filter struct {
	Include []string
	Exclude []string
	// Tags keeps workflows carrying at least one of the tags.
	Tags []string
}

func (f Filter) match(wf api.Workflow) bool {
	if len(f.Include) > 0 && !slices.Contains(f.Include, wf.Name) {
		return false
	}
	if slices.Contains(f.Exclude, wf.Name) {
		return false
	}
	if len(f.Tags) == 0 {
		return true
	}
	return slices.ContainsFunc(f.Tags, wf.HasTag)
}

// Parse decodes a definition from r. Every workflow is checked for
// structural errors, including its dependency graph.
func Parse(r io.Reader) (*File, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ParseError{Err: fmt.Errorf("invalid yaml: %w", err)}
	}

	out := &File{Variables: doc.Variables, Workflows: make([]api.Workflow, 0, len(doc.Workflows))}
	for i, wd := range doc.Workflows {
		wf, err := convertWorkflow(wd, doc.Variables)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				pe = &ParseError{Err: err}
			}
			if pe.Workflow == "" {
				pe.Workflow = wd.Name
				if pe.Workflow == "" {
					pe.Workflow = fmt.Sprintf("workflows[%d]", i)
				}
			}
			return nil, pe
		}
		out.Workflows = append(out.Workflows, wf)
	}
	return out, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte) (*File, error) {
	return Parse(bytes.NewReader(data))
}

// LoadFile parses the definition file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseBytes(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return nil, err
	}
	f.Path = path
	return f, nil
}

// Load reads workflows from files and directories. Directories contribute
// their *.yaml and *.yml files in name order. Workflow names must be unique
// across everything loaded.
func Load(filter Filter, paths ...string) ([]api.Workflow, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := definitionFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	var out []api.Workflow
	seen := make(map[string]string)
	for _, path := range files {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, wf := range f.Workflows {
			if prev, dup := seen[wf.Name]; dup {
				return nil, &ParseError{File: path, Workflow: wf.Name, Err: fmt.Errorf("already defined in %s", prev)}
			}
			seen[wf.Name] = path
			if filter.match(wf) {
				out = append(out, wf)
			}
		}
	}
	return out, nil
}

func definitionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func convertWorkflow(wd workflowDoc, fileVars map[string]any) (api.Workflow, error) {
	if wd.Name == "" {
		return api.Workflow{}, errors.New("workflow must have a name")
	}

	vars := maps.Clone(fileVars)
	if vars == nil {
		vars = make(map[string]any, len(wd.Variables))
	}
	maps.Copy(vars, wd.Variables)

	wf := api.Workflow{
		Name:        wd.Name,
		Description: wd.Description,
		Tags:        wd.Tags,
		Variables:   vars,
		Settings: api.Settings{
			Timeout:     timeDuration(wd.Settings.Timeout),
			MaxParallel: wd.Settings.MaxParallel,
			FailFast:    wd.Settings.FailFast,
			Parallel:    wd.Settings.Parallel || wd.Settings.ParallelSteps,
		},
	}

	var err error
	if wf.Setup, err = convertSteps(wd.Setup); err != nil {
		return api.Workflow{}, err
	}
	if wf.Steps, err = convertSteps(wd.Steps); err != nil {
		return api.Workflow{}, err
	}
	if wf.Teardown, err = convertSteps(wd.Teardown); err != nil {
		return api.Workflow{}, err
	}

	if _, err := graph.Plan(wf); err != nil {
		return api.Workflow{}, &ParseError{Workflow: wf.Name, Err: err}
	}
	return wf, nil
}

func convertSteps(docs []stepDoc) ([]api.Step, error) {
	out := make([]api.Step, 0, len(docs))
	for i, sd := range docs {
		s, err := convertStep(sd)
		if err != nil {
			name := sd.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, &ParseError{Step: name, Err: err}
		}
		out = append(out, s)
	}
	return out, nil
}

func convertStep(sd stepDoc) (api.Step, error) {
	if sd.Name == "" {
		return api.Step{}, errors.New("step must have a name")
	}
	if strings.TrimSpace(sd.Endpoint) == "" {
		return api.Step{}, errors.New("step must have an endpoint")
	}
	ep := api.ParseEndpoint(sd.Endpoint)
	if !slices.Contains(validMethods, ep.Method) {
		return api.Step{}, fmt.Errorf("invalid HTTP method %q", ep.Method)
	}

	s := api.Step{
		Name:          sd.Name,
		Description:   sd.Description,
		Endpoint:      ep,
		DependsOn:     sd.DependsOn,
		Condition:     sd.Condition,
		Extract:       sd.Extract,
		Defaults:      sd.Defaults,
		Variables:     sd.Variables,
		IgnoreFailure: sd.IgnoreFailure,
		Timeout:       timeDuration(sd.Timeout),
	}

	switch p := api.FailurePolicy(sd.OnFailure); p {
	case "", api.OnFailureAbort, api.OnFailureContinue, api.OnFailureRetry:
		s.OnFailure = p
	default:
		return api.Step{}, fmt.Errorf("invalid on_failure value %q", sd.OnFailure)
	}

	if r := sd.Request; r != nil {
		s.Request = &api.RequestSpec{
			Headers:     r.Headers,
			Query:       r.Query,
			PathParams:  r.Path,
			Body:        r.Body,
			ContentType: r.ContentType,
		}
	}
	if e := sd.Expect; e != nil {
		s.Expect = &api.ExpectSpec{
			Status:       e.Status,
			Headers:      e.Headers,
			Body:         e.Body,
			ResponseTime: e.ResponseTime,
			Custom:       e.Custom,
		}
	}
	if sd.Retry != nil {
		r, err := convertRetry(*sd.Retry)
		if err != nil {
			return api.Step{}, err
		}
		s.Retry = r
	}
	if l := sd.Loop; l != nil {
		if l.Count <= 0 && l.Over == "" {
			return api.Step{}, errors.New("loop must have either count or over")
		}
		s.Loop = &api.LoopSpec{Count: l.Count, Over: l.Over, As: l.As, Until: l.Until, Delay: timeDuration(l.Delay)}
	}
	if p := sd.Poll; p != nil {
		if p.Interval < 0 || p.Timeout < 0 {
			return api.Step{}, errors.New("poll interval and timeout must be positive")
		}
		switch api.PollTimeoutPolicy(p.OnTimeout) {
		case "", api.PollTimeoutFail, api.PollTimeoutContinue:
		default:
			return api.Step{}, fmt.Errorf("invalid poll on_timeout value %q", p.OnTimeout)
		}
		s.Poll = &api.PollSpec{
			Interval:     timeDuration(p.Interval),
			Timeout:      timeDuration(p.Timeout),
			InitialDelay: timeDuration(p.InitialDelay),
			Until:        convertCondition(p.Until),
			While:        convertCondition(p.While),
			OnTimeout:    api.PollTimeoutPolicy(p.OnTimeout),
		}
	}
	return s, nil
}

// convertRetry maps a retry block. backoff is either a kind ("fixed",
// "exponential") or a growth factor, where a factor above 1 means
// exponential.
func convertRetry(rd retryDoc) (*api.RetrySpec, error) {
	spec := &api.RetrySpec{
		MaxAttempts: rd.MaxAttempts,
		Backoff:     api.BackoffFixed,
		Initial:     timeDuration(rd.Initial),
		Max:         timeDuration(rd.Max),
	}
	if spec.MaxAttempts == 0 {
		spec.MaxAttempts = api.DefaultRetrySpec.MaxAttempts
	}
	if spec.Initial == 0 {
		spec.Initial = timeDuration(rd.Delay)
	}
	if rd.Delay == 0 && rd.Initial == 0 {
		spec.Initial = api.DefaultRetrySpec.Initial
	}

	if rd.Backoff.Kind == yaml.ScalarNode {
		switch v := rd.Backoff.Value; v {
		case string(api.BackoffFixed), string(api.BackoffExponential):
			spec.Backoff = api.BackoffKind(v)
		default:
			var factor float64
			if err := rd.Backoff.Decode(&factor); err != nil {
				return nil, fmt.Errorf("invalid retry backoff %q", v)
			}
			if factor > 1 {
				spec.Backoff = api.BackoffExponential
			}
		}
	}
	return spec, nil
}

func convertCondition(cd *conditionDoc) *api.PollCondition {
	if cd == nil {
		return nil
	}
	return &api.PollCondition{Status: cd.Status, Body: cd.Body, Condition: cd.Condition}
}

func timeDuration(d duration) time.Duration { return time.Duration(d) }
