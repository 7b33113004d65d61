package apiflow

import (
	"fmt"
	"maps"
	"time"

	"github.com/petrijr/apiflow/internal/graph"
	"github.com/petrijr/apiflow/pkg/api"
)

// WorkflowBuilder provides a fluent API for defining workflows in code:
//
//	wf := apiflow.New("users").
//	    Var("name", "ada").
//	    Step(apiflow.NewStep("create", "POST /users").
//	        Body(map[string]any{"name": "${name}"}).
//	        ExpectStatus(201).
//	        Extract("user_id", "$.id")).
//	    Step(apiflow.NewStep("fetch", "GET /users/{id}").
//	        PathParam("id", "${user_id}").
//	        DependsOn("create")).
//	    MustBuild()
type WorkflowBuilder struct {
	wf api.Workflow
}

// New creates a new workflow builder with the given name.
func New(name string) *WorkflowBuilder {
	if name == "" {
		panic("apiflow: workflow name must not be empty")
	}
	return &WorkflowBuilder{
		wf: api.Workflow{Name: name},
	}
}

// Name returns the workflow name.
func (b *WorkflowBuilder) Name() string {
	return b.wf.Name
}

func (b *WorkflowBuilder) Description(s string) *WorkflowBuilder {
	b.wf.Description = s
	return b
}

// Tags appends tags used by filters and Registry.Select.
func (b *WorkflowBuilder) Tags(tags ...string) *WorkflowBuilder {
	b.wf.Tags = append(b.wf.Tags, tags...)
	return b
}

// Var sets a workflow variable. String values may contain ${...} expressions.
func (b *WorkflowBuilder) Var(name string, value any) *WorkflowBuilder {
	if b.wf.Variables == nil {
		b.wf.Variables = make(map[string]any)
	}
	b.wf.Variables[name] = value
	return b
}

// Timeout bounds setup and main steps together.
func (b *WorkflowBuilder) Timeout(d time.Duration) *WorkflowBuilder {
	b.wf.Settings.Timeout = d
	return b
}

// Parallel runs independent steps of the same level concurrently, at most
// max at a time.
func (b *WorkflowBuilder) Parallel(max int) *WorkflowBuilder {
	b.wf.Settings.Parallel = true
	b.wf.Settings.MaxParallel = max
	return b
}

// FailFast aborts the run on the first main-step failure.
func (b *WorkflowBuilder) FailFast() *WorkflowBuilder {
	b.wf.Settings.FailFast = true
	return b
}

// Setup appends steps that run before the main steps.
func (b *WorkflowBuilder) Setup(steps ...*StepBuilder) *WorkflowBuilder {
	b.wf.Setup = appendSteps(b.wf.Setup, steps)
	return b
}

// Step appends main steps.
func (b *WorkflowBuilder) Step(steps ...*StepBuilder) *WorkflowBuilder {
	b.wf.Steps = appendSteps(b.wf.Steps, steps)
	return b
}

// Teardown appends steps that always run last.
func (b *WorkflowBuilder) Teardown(steps ...*StepBuilder) *WorkflowBuilder {
	b.wf.Teardown = appendSteps(b.wf.Teardown, steps)
	return b
}

func appendSteps(dst []api.Step, steps []*StepBuilder) []api.Step {
	for _, s := range steps {
		dst = append(dst, s.Build())
	}
	return dst
}

// Build validates the workflow, including its dependency graph, and returns
// a copy of it.
func (b *WorkflowBuilder) Build() (Workflow, error) {
	wf := b.wf
	wf.Variables = maps.Clone(b.wf.Variables)
	if _, err := graph.Plan(wf); err != nil {
		return Workflow{}, fmt.Errorf("workflow %q: %w", wf.Name, err)
	}
	return wf, nil
}

// MustBuild is like Build but panics on error.
func (b *WorkflowBuilder) MustBuild() Workflow {
	wf, err := b.Build()
	if err != nil {
		panic(err)
	}
	return wf
}

// Register builds the workflow and adds it to reg.
func (b *WorkflowBuilder) Register(reg *Registry) error {
	wf, err := b.Build()
	if err != nil {
		return err
	}
	return reg.Register(wf)
}

// MustRegister is like Register but panics on error.
func (b *WorkflowBuilder) MustRegister(reg *Registry) {
	if err := b.Register(reg); err != nil {
		panic(err)
	}
}

// StepBuilder assembles a single Step.
type StepBuilder struct {
	step api.Step
}

// NewStep starts a step calling endpoint, e.g. "POST /users/{id}".
func NewStep(name, endpoint string) *StepBuilder {
	if name == "" {
		panic("apiflow: step name must not be empty")
	}
	return &StepBuilder{
		step: api.Step{Name: name, Endpoint: api.ParseEndpoint(endpoint)},
	}
}

func (s *StepBuilder) request() *api.RequestSpec {
	if s.step.Request == nil {
		s.step.Request = &api.RequestSpec{}
	}
	return s.step.Request
}

func (s *StepBuilder) expect() *api.ExpectSpec {
	if s.step.Expect == nil {
		s.step.Expect = &api.ExpectSpec{}
	}
	return s.step.Expect
}

func (s *StepBuilder) Description(d string) *StepBuilder {
	s.step.Description = d
	return s
}

// DependsOn names main steps that must finish first.
func (s *StepBuilder) DependsOn(names ...string) *StepBuilder {
	s.step.DependsOn = append(s.step.DependsOn, names...)
	return s
}

// When gates the step on a boolean expression.
func (s *StepBuilder) When(condition string) *StepBuilder {
	s.step.Condition = condition
	return s
}

func (s *StepBuilder) Header(name, value string) *StepBuilder {
	r := s.request()
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[name] = value
	return s
}

func (s *StepBuilder) Query(name string, value any) *StepBuilder {
	r := s.request()
	if r.Query == nil {
		r.Query = make(map[string]any)
	}
	r.Query[name] = value
	return s
}

// PathParam fills the {name} segment of the endpoint path.
func (s *StepBuilder) PathParam(name string, value any) *StepBuilder {
	r := s.request()
	if r.PathParams == nil {
		r.PathParams = make(map[string]any)
	}
	r.PathParams[name] = value
	return s
}

func (s *StepBuilder) Body(body any) *StepBuilder {
	s.request().Body = body
	return s
}

func (s *StepBuilder) ContentType(ct string) *StepBuilder {
	s.request().ContentType = ct
	return s
}

// ExpectStatus lists the accepted status codes.
func (s *StepBuilder) ExpectStatus(codes ...int) *StepBuilder {
	s.expect().Status = append(s.expect().Status, codes...)
	return s
}

func (s *StepBuilder) ExpectHeader(name string, want any) *StepBuilder {
	e := s.expect()
	if e.Headers == nil {
		e.Headers = make(map[string]any)
	}
	e.Headers[name] = want
	return s
}

// ExpectBody sets the expected body shape.
func (s *StepBuilder) ExpectBody(shape any) *StepBuilder {
	s.expect().Body = shape
	return s
}

// ExpectResponseTime takes a millisecond bound or a matcher such as "lte:500".
func (s *StepBuilder) ExpectResponseTime(want any) *StepBuilder {
	s.expect().ResponseTime = want
	return s
}

// Check adds a custom boolean expression with response.* in scope.
func (s *StepBuilder) Check(expr string) *StepBuilder {
	s.expect().Custom = append(s.expect().Custom, expr)
	return s
}

// Extract binds a response path to a variable.
func (s *StepBuilder) Extract(name, path string) *StepBuilder {
	if s.step.Extract == nil {
		s.step.Extract = make(map[string]string)
	}
	s.step.Extract[name] = path
	return s
}

// Default is published for name when the step does not succeed.
func (s *StepBuilder) Default(name string, value any) *StepBuilder {
	if s.step.Defaults == nil {
		s.step.Defaults = make(map[string]any)
	}
	s.step.Defaults[name] = value
	return s
}

// Var sets a step-local variable.
func (s *StepBuilder) Var(name string, value any) *StepBuilder {
	if s.step.Variables == nil {
		s.step.Variables = make(map[string]any)
	}
	s.step.Variables[name] = value
	return s
}

func (s *StepBuilder) OnFailure(p FailurePolicy) *StepBuilder {
	s.step.OnFailure = p
	return s
}

func (s *StepBuilder) IgnoreFailure() *StepBuilder {
	s.step.IgnoreFailure = true
	return s
}

func (s *StepBuilder) Timeout(d time.Duration) *StepBuilder {
	s.step.Timeout = d
	return s
}

// Retry attaches a retry policy built with Retry(n).
func (s *StepBuilder) Retry(r RetryBuilder) *StepBuilder {
	spec := r.Spec()
	s.step.Retry = &spec
	return s
}

// Repeat runs the step count times, binding loop.index.
func (s *StepBuilder) Repeat(count int) *StepBuilder {
	s.step.Loop = &api.LoopSpec{Count: count}
	return s
}

// ForEach runs the step once per element of the sequence over yields,
// binding it as as (DefaultLoopVar when empty).
func (s *StepBuilder) ForEach(over, as string) *StepBuilder {
	s.step.Loop = &api.LoopSpec{Over: over, As: as}
	return s
}

// Until stops a Repeat or ForEach loop once cond holds. delay is waited
// between iterations.
func (s *StepBuilder) Until(cond string, delay time.Duration) *StepBuilder {
	if s.step.Loop == nil {
		panic(fmt.Sprintf("apiflow: step %q: Until requires Repeat or ForEach", s.step.Name))
	}
	s.step.Loop.Until = cond
	s.step.Loop.Delay = delay
	return s
}

// Poll repeats the request until spec.Until matches or spec.Timeout elapses.
func (s *StepBuilder) Poll(spec PollSpec) *StepBuilder {
	p := spec
	s.step.Poll = &p
	return s
}

// Build returns the assembled step.
func (s *StepBuilder) Build() Step {
	return s.step
}
