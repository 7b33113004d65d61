package persistence

import (
	"context"

	"github.com/petrijr/apiflow/pkg/api"
)

// EventStore is an append-only history store for run events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.RunEvent) error
	ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

var _ EventStore = NoopEventStore{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.RunEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	return nil, nil
}
