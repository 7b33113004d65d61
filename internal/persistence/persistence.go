package persistence

// Persistence bundles the result and event stores so the engine
// can depend on a single abstraction.
type Persistence struct {
	Results ResultStore
	Events  EventStore
}

// NewInMemory returns a Persistence backed entirely by memory.
func NewInMemory() Persistence {
	store := NewInMemoryStore()
	return Persistence{Results: store, Events: store}
}
