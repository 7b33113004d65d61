package api

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testObserver counts callbacks to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	starts        int
	completes     int
	stepStarts    int
	attempts      int
	stepCompletes int
	lastStep      string
}

func (o *testObserver) OnWorkflowStart(ctx context.Context, run RunInfo) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
}

func (o *testObserver) OnWorkflowCompleted(ctx context.Context, run RunInfo, res *WorkflowResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes++
}

func (o *testObserver) OnStepStart(ctx context.Context, run RunInfo, phase Phase, step string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepStarts++
}

func (o *testObserver) OnAttempt(ctx context.Context, run RunInfo, step string, attempt Attempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *testObserver) OnStepCompleted(ctx context.Context, run RunInfo, res *StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepCompletes++
	o.lastStep = res.Name
}

func TestNewCompositeObserver(t *testing.T) {
	t.Run("Should return noop when empty", func(t *testing.T) {
		_, ok := NewCompositeObserver(nil, nil).(NoopObserver)
		assert.True(t, ok)
	})

	t.Run("Should return the single observer unchanged", func(t *testing.T) {
		o := &testObserver{}
		assert.Same(t, o, NewCompositeObserver(nil, o).(*testObserver))
	})

	t.Run("Should fan out to all observers", func(t *testing.T) {
		a, b := &testObserver{}, &testObserver{}
		obs := NewCompositeObserver(a, b)
		ctx := context.Background()
		run := RunInfo{ID: "r1", Workflow: "wf"}

		obs.OnWorkflowStart(ctx, run)
		obs.OnStepStart(ctx, run, PhaseMain, "s1")
		obs.OnAttempt(ctx, run, "s1", Attempt{})
		obs.OnStepCompleted(ctx, run, &StepResult{Name: "s1", Status: StepSuccess})
		obs.OnWorkflowCompleted(ctx, run, &WorkflowResult{Status: StatusSuccess})

		for _, o := range []*testObserver{a, b} {
			assert.Equal(t, 1, o.starts)
			assert.Equal(t, 1, o.stepStarts)
			assert.Equal(t, 1, o.attempts)
			assert.Equal(t, 1, o.stepCompletes)
			assert.Equal(t, 1, o.completes)
			assert.Equal(t, "s1", o.lastStep)
		}
	})
}

func TestLoggingObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)
	ctx := context.Background()
	run := RunInfo{ID: "r1", Workflow: "users"}

	obs.OnWorkflowStart(ctx, run)
	obs.OnStepCompleted(ctx, run, &StepResult{Name: "create_user", Phase: PhaseMain, Status: StepFailed, Error: "boom"})
	obs.OnWorkflowCompleted(ctx, run, &WorkflowResult{Status: StatusFailed})

	out := buf.String()
	assert.Contains(t, out, `"msg":"workflow_start"`)
	assert.Contains(t, out, `"msg":"step_completed"`)
	assert.Contains(t, out, `"step":"create_user"`)
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"msg":"workflow_completed"`)
}

func TestBasicMetrics(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()
	run := RunInfo{ID: "r1"}

	m.OnWorkflowStart(ctx, run)
	m.OnWorkflowStart(ctx, run)
	m.OnAttempt(ctx, run, "a", Attempt{})
	m.OnAttempt(ctx, run, "a", Attempt{})
	m.OnStepCompleted(ctx, run, &StepResult{Status: StepSuccess, Duration: 10 * time.Millisecond})
	m.OnStepCompleted(ctx, run, &StepResult{Status: StepSuccess, Duration: 30 * time.Millisecond})
	m.OnStepCompleted(ctx, run, &StepResult{Status: StepTimedOut})
	m.OnStepCompleted(ctx, run, &StepResult{Status: StepSkipped})
	m.OnWorkflowCompleted(ctx, run, &WorkflowResult{Status: StatusSuccess})

	snap := m.Snapshot()
	require.Equal(t, int64(2), snap.WorkflowsStarted)
	assert.Equal(t, int64(1), snap.WorkflowsSucceeded)
	assert.Equal(t, int64(1), snap.RunningWorkflows)
	assert.Equal(t, int64(2), snap.StepsSucceeded)
	assert.Equal(t, int64(1), snap.StepsFailed)
	assert.Equal(t, int64(1), snap.StepsSkipped)
	assert.Equal(t, int64(2), snap.Attempts)
	assert.Equal(t, 20*time.Millisecond, snap.AvgStepDuration)
}
