package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/apiflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of
// ResultStore and EventStore backed by maps.
type InMemoryStore struct {
	mu      sync.RWMutex
	results map[string]*api.WorkflowResult
	events  map[string][]api.RunEvent
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		results: make(map[string]*api.WorkflowResult),
		events:  make(map[string][]api.RunEvent),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ ResultStore = (*InMemoryStore)(nil)

var _ EventStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveResult(ctx context.Context, res *api.WorkflowResult) error {
	cp, err := cloneResult(res)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[res.ID] = cp
	return nil
}

func (s *InMemoryStore) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	s.mu.RLock()
	res, ok := s.results[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrResultNotFound
	}

	return cloneResult(res)
}

func (s *InMemoryStore) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	s.mu.RLock()
	var matched []*api.WorkflowResult
	for _, res := range s.results {
		if matches(res, opts) {
			matched = append(matched, res)
		}
	}
	s.mu.RUnlock()

	out := make([]*api.WorkflowResult, 0, len(matched))
	for _, res := range matched {
		cp, err := cloneResult(res)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sortByStart(out)
	return out, nil
}

func (s *InMemoryStore) AppendEvent(ctx context.Context, ev api.RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.RunID] = append(s.events[ev.RunID], ev)
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[runID]
	out := make([]api.RunEvent, len(evs))
	copy(out, evs)
	return out, nil
}
