package engine

import (
	"context"

	"github.com/petrijr/apiflow/internal/scope"
	"github.com/petrijr/apiflow/pkg/api"
)

type pollState int

const (
	pollPending pollState = iota
	pollDone
	// pollStopped means while stopped matching before until did.
	pollStopped
)

// pollStatus decides what a polled response means for the poll.
func (x *executor) pollStatus(p *api.PollSpec, resp *api.Response, sc *scope.Scope) (pollState, error) {
	if p.Until != nil {
		ok, err := x.validator.MatchPoll(p.Until, resp, sc)
		if err != nil || ok {
			return pollDone, err
		}
	}
	if p.While != nil {
		ok, err := x.validator.MatchPoll(p.While, resp, sc)
		if err != nil {
			return pollPending, err
		}
		if !ok {
			if p.Until == nil {
				return pollDone, nil
			}
			return pollStopped, nil
		}
	}
	if p.Until == nil && p.While == nil {
		return pollDone, nil
	}
	return pollPending, nil
}

func pollVerdict(path, msg string) api.Verdict {
	return api.Verdict{Diagnostics: []api.Diagnostic{{
		Category: api.CategoryPoll,
		Path:     path,
		Message:  msg,
	}}}
}

// poll repeats the step's request until the poll condition settles or the
// poll times out. Every check is recorded as an attempt; the final response
// is validated against the step's expectations.
func (x *executor) poll(ctx context.Context, step api.Step, sc *scope.Scope, iteration int, res *api.StepResult) (*api.Response, error) {
	p := step.Poll
	interval := p.Interval
	if interval <= 0 {
		interval = api.DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = api.DefaultPollTimeout
	}

	if err := sleep(ctx, x.clock, p.InitialDelay); err != nil {
		return nil, err
	}

	start := x.clock.Now()
	var last *api.Response
	for check := 1; ; check++ {
		if elapsed := x.clock.Now().Sub(start); elapsed >= timeout {
			if p.OnTimeout == api.PollTimeoutContinue && last != nil {
				x.logger.Warn("poll timed out, continuing with last response",
					"workflow", x.run.Workflow, "step", step.Name, "checks", check-1)
				at := &res.Attempts[len(res.Attempts)-1]
				at.Error = ""
				return last, x.check(step, last, sc, at)
			}
			return last, &api.PollTimeoutError{Step: step.Name, Timeout: timeout, Checks: check - 1}
		}

		resp, at, err := x.send(ctx, step, sc, iteration, check)
		if err != nil {
			x.record(ctx, res, at)
			return nil, err
		}
		last = resp

		state, err := x.pollStatus(p, resp, sc)
		switch {
		case err != nil:
			at.Error = err.Error()
			at.Validation = pollVerdict("/poll", err.Error())
			x.record(ctx, res, at)
			return resp, err
		case state == pollDone:
			err := x.check(step, resp, sc, &at)
			x.record(ctx, res, at)
			return resp, err
		case state == pollStopped:
			verdict := pollVerdict("/poll/while", "while condition stopped matching before until was satisfied")
			err := &api.ValidationError{Verdict: verdict}
			at.Validation = verdict
			at.Error = err.Error()
			x.record(ctx, res, at)
			return resp, err
		}

		at.Validation = pollVerdict("/poll/until", "until condition not yet satisfied")
		x.record(ctx, res, at)

		wait := interval
		if rem := timeout - x.clock.Now().Sub(start); rem < wait {
			wait = rem
		}
		if err := sleep(ctx, x.clock, wait); err != nil {
			return last, err
		}
	}
}
