package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testQueue exercises the behaviour every Queue implementation shares.
func testQueue(t *testing.T, q Queue) {
	t.Helper()

	t.Run("Should dequeue in FIFO order", func(t *testing.T) {
		ctx := context.Background()
		for _, name := range []string{"wf1", "wf2", "wf3"} {
			require.NoError(t, q.Enqueue(ctx, Task{ID: name, WorkflowName: name, Vars: map[string]any{"name": name}}))
		}
		assert.Equal(t, 3, q.Len())

		for _, want := range []string{"wf1", "wf2", "wf3"} {
			got, err := q.Dequeue(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got.WorkflowName)
			assert.Equal(t, want, got.ID)
			assert.Equal(t, map[string]any{"name": want}, got.Vars)
		}
		assert.Equal(t, 0, q.Len())
	})

	t.Run("Should reject tasks without a workflow", func(t *testing.T) {
		err := q.Enqueue(context.Background(), Task{ID: "x"})
		assert.ErrorIs(t, err, ErrInvalidTask)
		assert.Equal(t, 0, q.Len())
	})

	t.Run("Should block until a task arrives", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		got := make(chan *Task, 1)
		errs := make(chan error, 1)
		go func() {
			tk, err := q.Dequeue(ctx)
			if err != nil {
				errs <- err
				return
			}
			got <- tk
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, q.Enqueue(context.Background(), Task{WorkflowName: "late"}))

		select {
		case err := <-errs:
			t.Fatalf("Dequeue returned error: %v", err)
		case tk := <-got:
			assert.Equal(t, "late", tk.WorkflowName)
		case <-ctx.Done():
			t.Fatal("timeout waiting for Dequeue")
		}
	})

	t.Run("Should honour cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
