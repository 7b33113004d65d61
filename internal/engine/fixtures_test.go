package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/petrijr/apiflow/pkg/api"
)

var testEpoch = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

// fakeClock advances instantly on Sleep and records every wait.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// reply is one scripted response. block waits for the request context to
// end instead of answering.
type reply struct {
	status int
	body   any
	err    error
	block  bool
}

func ok(body any) reply { return reply{status: 200, body: body} }

func status(code int, body any) reply { return reply{status: code, body: body} }

// fakeTransport answers "METHOD url" routes with scripted replies. The last
// reply of a route repeats. Unknown routes get a 404.
type fakeTransport struct {
	mu       sync.Mutex
	routes   map[string][]reply
	calls    map[string]int
	requests []api.ResolvedRequest
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		routes: make(map[string][]reply),
		calls:  make(map[string]int),
	}
}

func (f *fakeTransport) on(route string, replies ...reply) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[route] = replies
	return f
}

func (f *fakeTransport) Send(ctx context.Context, req api.ResolvedRequest) (*api.Response, error) {
	key := req.Method + " " + req.URL
	f.mu.Lock()
	f.requests = append(f.requests, req)
	replies, found := f.routes[key]
	n := f.calls[key]
	f.calls[key]++
	f.mu.Unlock()

	if !found {
		return jsonResponse(404, map[string]any{"error": "not found"}), nil
	}
	r := replies[min(n, len(replies)-1)]
	switch {
	case r.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case r.err != nil:
		return nil, r.err
	}
	return jsonResponse(r.status, r.body), nil
}

// sent lists "METHOD url" for every request in order.
func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Method+" "+r.URL)
	}
	return out
}

func (f *fakeTransport) last(route string) (api.ResolvedRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.requests) - 1; i >= 0; i-- {
		r := f.requests[i]
		if r.Method+" "+r.URL == route {
			return r, true
		}
	}
	return api.ResolvedRequest{}, false
}

func jsonResponse(code int, body any) *api.Response {
	raw, _ := json.Marshal(body)
	var decoded any
	_ = json.Unmarshal(raw, &decoded)
	return &api.Response{
		Status:  code,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    decoded,
		Raw:     raw,
	}
}

type testEngine struct {
	*engineImpl
	clock     *fakeClock
	transport *fakeTransport
	metrics   *api.BasicMetrics
}

func newTestEngine(t *testing.T, tr *fakeTransport, mutate ...func(*Config)) *testEngine {
	t.Helper()
	clock := newFakeClock()
	metrics := &api.BasicMetrics{}
	cfg := Config{
		Transport: tr,
		Clock:     clock,
		RNG:       api.NewLockedRNG(1),
		Env:       func(string) (string, bool) { return "", false },
		Observer:  metrics,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	eng := NewInMemoryEngine(cfg).(*engineImpl)
	return &testEngine{engineImpl: eng, clock: clock, transport: tr, metrics: metrics}
}

func step(name, endpoint string) api.Step {
	return api.Step{Name: name, Endpoint: api.ParseEndpoint(endpoint)}
}

func statuses(rs []api.StepResult) map[string]api.StepStatus {
	out := make(map[string]api.StepStatus, len(rs))
	for _, r := range rs {
		out[r.Name] = r.Status
	}
	return out
}
