package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/apiflow/internal/graph"
	"github.com/petrijr/apiflow/pkg/api"
)

// Registry holds named, validated workflows for batch runs.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]api.Workflow
	order  []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]api.Workflow),
	}
}

// Register validates wf and adds it. Names must be unique.
func (r *Registry) Register(wf api.Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if _, err := graph.Plan(wf); err != nil {
		return fmt.Errorf("workflow %q: %w", wf.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[wf.Name]; exists {
		return fmt.Errorf("workflow %q already registered", wf.Name)
	}
	r.byName[wf.Name] = wf
	r.order = append(r.order, wf.Name)
	return nil
}

// Get returns the workflow registered under name.
func (r *Registry) Get(name string) (api.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.byName[name]
	if !ok {
		return api.Workflow{}, fmt.Errorf("workflow %q not found", name)
	}
	return wf, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Select returns workflows in registration order. With tags, only workflows
// carrying at least one of them are returned.
func (r *Registry) Select(tags ...string) []api.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]api.Workflow, 0, len(r.order))
	for _, name := range r.order {
		wf := r.byName[name]
		if len(tags) > 0 && !hasAnyTag(wf, tags) {
			continue
		}
		out = append(out, wf)
	}
	return out
}

func hasAnyTag(wf api.Workflow, tags []string) bool {
	for _, t := range tags {
		if wf.HasTag(t) {
			return true
		}
	}
	return false
}
