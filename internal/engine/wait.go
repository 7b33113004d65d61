package engine

import (
	"context"
	"time"

	"github.com/petrijr/apiflow/pkg/api"
)

type deadlineKey struct{}

// deadline is a clock-based limit carried in a context. Real context
// deadlines only follow wall time, so these are checked against the injected
// clock at every suspension point as well.
type deadline struct {
	at     time.Time
	cause  error
	parent *deadline
}

func deadlines(ctx context.Context) *deadline {
	dl, _ := ctx.Value(deadlineKey{}).(*deadline)
	return dl
}

// withDeadline bounds ctx by d, measured both on clock and on the wall.
// Whichever fires first reports cause.
func withDeadline(ctx context.Context, clock api.Clock, d time.Duration, cause error) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	dl := &deadline{at: clock.Now().Add(d), cause: cause, parent: deadlines(ctx)}
	ctx = context.WithValue(ctx, deadlineKey{}, dl)
	return context.WithTimeoutCause(ctx, d, cause)
}

// interrupted returns why work under ctx must stop, or nil.
func interrupted(ctx context.Context, clock api.Clock) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	now := clock.Now()
	for dl := deadlines(ctx); dl != nil; dl = dl.parent {
		if !now.Before(dl.at) {
			return dl.cause
		}
	}
	return nil
}

// sleep waits d on clock. A wait that would cross a deadline is cut short at
// the deadline and reports its cause.
func sleep(ctx context.Context, clock api.Clock, d time.Duration) error {
	if err := interrupted(ctx, clock); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	var hit error
	now := clock.Now()
	for dl := deadlines(ctx); dl != nil; dl = dl.parent {
		if rem := dl.at.Sub(now); rem < d {
			d, hit = rem, dl.cause
		}
	}

	if err := clock.Sleep(ctx, d); err != nil {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return err
	}
	if hit != nil {
		return hit
	}
	return interrupted(ctx, clock)
}
