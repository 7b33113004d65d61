package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/pkg/api"
)

// newBackoff builds the delay sequence for spec. It returns nil when retries
// happen back to back.
func newBackoff(spec api.RetrySpec) retry.Backoff {
	if spec.Initial <= 0 {
		return nil
	}
	var b retry.Backoff
	switch spec.Backoff {
	case api.BackoffExponential:
		b = retry.NewExponential(spec.Initial)
	default:
		b = retry.NewConstant(spec.Initial)
	}
	if spec.Max > 0 {
		b = retry.WithCappedDuration(spec.Max, b)
	}
	return b
}

// retryable reports whether a failed attempt may be repeated: only transport
// errors and failed validations are.
func retryable(err error) bool {
	var (
		te *api.TransportError
		ve *api.ValidationError
	)
	return errors.As(err, &te) || errors.As(err, &ve)
}

// runInstance runs one request, validation and extraction cycle, wrapped in
// the step's retry envelope. The last response is returned for loop checks.
func (x *executor) runInstance(ctx context.Context, step api.Step, sc *scope.Scope, iteration int, res *api.StepResult) (map[string]any, *api.Response, error) {
	maxAttempts := 1
	var backoff retry.Backoff
	if spec := step.EffectiveRetry(); spec != nil {
		maxAttempts = max(spec.MaxAttempts, 1)
		backoff = newBackoff(*spec)
	}

	for attempt := 1; ; attempt++ {
		resp, err := x.attempt(ctx, step, sc, iteration, res)
		if err == nil {
			vals, err := x.extractor.Extract(resp, step.Extract)
			return vals, resp, err
		}
		if cause := interrupted(ctx, x.clock); cause != nil {
			return nil, resp, cause
		}
		if attempt >= maxAttempts || !retryable(err) {
			return nil, resp, err
		}

		var delay time.Duration
		if backoff != nil {
			if d, stop := backoff.Next(); !stop {
				delay = d
			}
		}
		if werr := sleep(ctx, x.clock, delay); werr != nil {
			return nil, resp, werr
		}
	}
}

// attempt performs a single request (or a whole poll) and validates the
// final response.
func (x *executor) attempt(ctx context.Context, step api.Step, sc *scope.Scope, iteration int, res *api.StepResult) (*api.Response, error) {
	if step.Poll != nil {
		return x.poll(ctx, step, sc, iteration, res)
	}
	resp, at, err := x.send(ctx, step, sc, iteration, 0)
	if err == nil {
		err = x.check(step, resp, sc, &at)
	}
	x.record(ctx, res, at)
	return resp, err
}
