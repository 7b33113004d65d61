package taskqueue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue with a single Redis list:
//
//	<prefix>tasks
//
// Values are gob-encoded Task structs pushed with LPUSH and popped with BRPOP.
type RedisQueue struct {
	client *redis.Client
	key    string

	// block bounds each BRPOP so cancellation is noticed between calls.
	block time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "apiflow:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "apiflow:"
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		block:  time.Second,
	}
}

var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if err := validate(t); err != nil {
		return err
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BRPop(ctx, q.block, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}
		return DecodeTask([]byte(res[1]))
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
