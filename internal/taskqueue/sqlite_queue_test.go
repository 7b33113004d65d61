package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestSQLiteQueue(t *testing.T) *SQLiteQueue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to ":memory:" gets its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	require.NoError(t, err)
	return q
}

func TestSQLiteQueue(t *testing.T) {
	testQueue(t, newTestSQLiteQueue(t))
}

func TestSQLiteQueueConcurrentDequeueNoDuplicates(t *testing.T) {
	q := newTestSQLiteQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, Task{WorkflowName: "wf"}))

	results := make(chan *Task, 2)
	deq := func() {
		got, _ := q.Dequeue(ctx)
		results <- got
	}
	go deq()
	go deq()

	count := 0
	for i := 0; i < 2; i++ {
		if tk := <-results; tk != nil {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSQLiteQueueStampsEnqueueTime(t *testing.T) {
	q := newTestSQLiteQueue(t)
	before := time.Now()
	require.NoError(t, q.Enqueue(context.Background(), Task{WorkflowName: "wf"}))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.False(t, got.EnqueuedAt.Before(before.Truncate(time.Microsecond)))
}
