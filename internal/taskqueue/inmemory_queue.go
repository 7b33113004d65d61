package taskqueue

import (
	"context"
	"time"
)

// InMemoryQueue keeps encoded tasks in a buffered channel. Tasks pass
// through the same codec as the durable queues, so a dequeued task never
// shares maps with the enqueued one and non-encodable vars fail at Enqueue.
type InMemoryQueue struct {
	ch chan []byte
}

// NewInMemoryQueue creates a queue holding up to capacity tasks; Enqueue
// blocks while it is full. A non-positive capacity selects 1024.
func NewInMemoryQueue(capacity int) *InMemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &InMemoryQueue{ch: make(chan []byte, capacity)}
}

var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
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
	select {
	case q.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case payload := <-q.ch:
		return DecodeTask(payload)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *InMemoryQueue) Len() int { return len(q.ch) }
