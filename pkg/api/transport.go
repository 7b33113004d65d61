package api

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// ResolvedRequest is a request with every template already evaluated.
type ResolvedRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    any               `json:"body,omitempty"`

	// Timeout is the per-request limit derived from the step, zero for none.
	Timeout time.Duration `json:"-"`
}

// Response is the view of a response that validation and extraction work on.
type Response struct {
	Status  int
	Headers map[string]string
	// Body is the decoded body: JSON values for JSON responses, a string otherwise.
	Body any
	// Raw is the undecoded body when the transport has it.
	Raw     []byte
	Latency time.Duration
}

// Header looks a header up case-insensitively.
func (r *Response) Header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Transport sends fully-resolved requests. Implementations must be safe for
// concurrent use by multiple steps.
type Transport interface {
	Send(ctx context.Context, req ResolvedRequest) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req ResolvedRequest) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, req ResolvedRequest) (*Response, error) {
	return f(ctx, req)
}

// BuiltinCall carries the already-evaluated arguments of a builtin call.
// Positional arguments come from name(a, b); named ones from name:key=value.
type BuiltinCall struct {
	Name  string
	Args  []any
	Named map[string]any
}

// BuiltinFunc is a pure callable exposed to expressions.
type BuiltinFunc func(call BuiltinCall) (any, error)

// Builtins is the registry of functions an expression may call. The
// expression engine has no other access to the clock, randomness or the
// environment.
type Builtins map[string]BuiltinFunc

// Merge returns a new registry with other's entries layered over b's.
func (b Builtins) Merge(other Builtins) Builtins {
	out := make(Builtins, len(b)+len(other))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clock is injected so waits are cooperative and tests are deterministic.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, returning ctx's error in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RNG is the randomness source handed to builtins. *rand.Rand satisfies it,
// but is not safe for concurrent use; see NewLockedRNG.
type RNG interface {
	Int63n(n int64) int64
	Float64() float64
}

type lockedRNG struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRNG returns a goroutine-safe RNG seeded with seed.
func NewLockedRNG(seed int64) RNG {
	return &lockedRNG{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRNG) Int63n(n int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Int63n(n)
}

func (l *lockedRNG) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
