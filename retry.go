package apiflow

import (
	"time"

	"github.com/petrijr/apiflow/pkg/api"
)

// RetryBuilder provides a fluent way to construct RetrySpec values
// for use with StepBuilder.Retry.
type RetryBuilder struct {
	spec RetrySpec
}

// Retry creates a RetryBuilder with the given maxAttempts and the default
// fixed one second delay.
//
// maxAttempts <= 0 is treated as 1 (no retries).
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{
		spec: RetrySpec{
			MaxAttempts: maxAttempts,
			Backoff:     api.BackoffFixed,
			Initial:     time.Second,
		},
	}
}

// WithExponentialBackoff doubles the delay after every attempt, starting at
// initial. max caps the delay; if <= 0, there is no cap.
//
// Example:
//
//	Retry(4).WithExponentialBackoff(time.Second, 3*time.Second) // 1s, 2s, 3s
func (r RetryBuilder) WithExponentialBackoff(initial, max time.Duration) RetryBuilder {
	s := r.spec
	s.Backoff = api.BackoffExponential
	s.Initial = initial
	s.Max = max
	return RetryBuilder{spec: s}
}

// WithFixedBackoff waits delay between every attempt.
func (r RetryBuilder) WithFixedBackoff(delay time.Duration) RetryBuilder {
	s := r.spec
	s.Backoff = api.BackoffFixed
	s.Initial = delay
	s.Max = 0
	return RetryBuilder{spec: s}
}

// Immediate disables any sleep between retries.
// Retries will still respect MaxAttempts.
func (r RetryBuilder) Immediate() RetryBuilder {
	s := r.spec
	s.Initial = 0
	s.Max = 0
	return RetryBuilder{spec: s}
}

// Spec returns the underlying RetrySpec.
func (r RetryBuilder) Spec() RetrySpec {
	return r.spec
}
