package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresQueue is a persistent Queue backed by a PostgreSQL table. Workers
// claim rows with FOR UPDATE SKIP LOCKED, so concurrent consumers never block
// on or receive the same task.
type PostgresQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

var _ Queue = (*PostgresQueue)(nil)

// NewPostgresQueue creates the run_tasks table if needed and returns a queue.
func NewPostgresQueue(ctx context.Context, db *sql.DB) (*PostgresQueue, error) {
	q := &PostgresQueue{db: db, pollInterval: 100 * time.Millisecond}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS run_tasks (
			id            BIGSERIAL PRIMARY KEY,
			workflow_name TEXT NOT NULL,
			payload       BYTEA NOT NULL,
			enqueued_at   BIGINT NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("postgres queue schema: %w", err)
	}
	return q, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, t Task) error {
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
		VALUES ($1, $2, $3)`,
		t.WorkflowName, payload, t.EnqueuedAt.UnixNano(),
	)
	return err
}

// Dequeue polls until a task is available or ctx is done.
func (q *PostgresQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := time.NewTimer(0)
	if !tmr.Stop() {
		<-tmr.C
	}
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id, payload, err := q.claim(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			tmr.Reset(q.pollInterval)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tmr.C:
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		task, err := DecodeTask(payload)
		if err != nil {
			return nil, fmt.Errorf("decode task %d: %w", id, err)
		}
		return task, nil
	}
}

func (q *PostgresQueue) claim(ctx context.Context) (int64, []byte, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id      int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, payload FROM run_tasks
		ORDER BY id
		FOR UPDATE SKIP LOCKED
		LIMIT 1`).Scan(&id, &payload)
	if err != nil {
		return 0, nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_tasks WHERE id = $1`, id); err != nil {
		return 0, nil, err
	}
	return id, payload, tx.Commit()
}

func (q *PostgresQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM run_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
