package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteQueue is a persistent Queue backed by SQLite. Tasks are claimed in
// insertion order inside a transaction, so concurrent workers never receive
// the same task.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the run_tasks table in the given DB and returns
// a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS run_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_name TEXT NOT NULL,
			payload BLOB NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
	`)
	return err
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	payload, err := EncodeTask(t)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO run_tasks (workflow_name, payload, enqueued_at)
		VALUES (?, ?, ?)`,
		t.WorkflowName,
		payload,
		t.EnqueuedAt.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, err := q.claim(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.pollInterval):
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		return DecodeTask(payload)
	}
}

// claim deletes the oldest row and returns its payload.
func (q *SQLiteQueue) claim(ctx context.Context) ([]byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload FROM run_tasks
		ORDER BY id
		LIMIT 1`).Scan(&id, &payload)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_tasks WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return payload, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM run_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
