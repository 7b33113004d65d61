package apiflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/petrijr/apiflow/internal/taskqueue"
	"github.com/petrijr/apiflow/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, a Registry, an in-memory task
// queue and a Worker for running workflows asynchronously in one process.
//
// Typical usage:
//
//	runner := apiflow.NewLocalRunner(apiflow.EngineConfig{Transport: t})
//	flow.MustRegister(runner.Workflows)
//
//	_ = runner.StartWorkers(ctx, 2)
//	id, _ := runner.Submit(ctx, flow.Name(), nil)
//	res, err := runner.Wait(ctx, id)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Workflows resolves the names passed to Submit.
	Workflows *Registry

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	logger  *slog.Logger
	tracker *tracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner whose engine is built from cfg
// with in-memory persistence.
func NewLocalRunner(cfg EngineConfig) *LocalRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	eng := NewInMemoryEngine(cfg)
	reg := NewRegistry()
	q := taskqueue.NewInMemoryQueue(1024)
	tr := newTracker()
	w := worker.NewWithConfig(eng, reg, q, worker.Config{Logger: logger, OnOutcome: tr.record})

	return &LocalRunner{
		Engine:    eng,
		Workflows: reg,
		Queue:     q,
		Worker:    w,
		logger:    logger,
		tracker:   tr,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("apiflow: LocalRunner already started")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			for {
				_, err := r.Worker.ProcessOne(ctx)
				if err == nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				// The worker already reported the task; keep serving the queue.
				r.logger.Debug("local runner task error", "error", err)
			}
		}()
	}
	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Submit enqueues a run of a registered workflow and returns its task ID.
func (r *LocalRunner) Submit(ctx context.Context, workflowName string, vars map[string]any) (string, error) {
	return r.Worker.Enqueue(ctx, workflowName, vars)
}

// Wait blocks until the task finished and returns its result. A finished
// task's outcome is handed out once; it is forgotten after Wait returns it.
func (r *LocalRunner) Wait(ctx context.Context, taskID string) (*WorkflowResult, error) {
	e := r.tracker.entry(taskID)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		r.tracker.forget(taskID)
		return e.out.Result, e.out.Err
	}
}

// tracker hands worker outcomes to Wait callers. Entries are created by
// whichever side arrives first.
type tracker struct {
	mu      sync.Mutex
	entries map[string]*outcomeEntry
}

type outcomeEntry struct {
	done chan struct{}
	out  worker.Outcome
}

func newTracker() *tracker {
	return &tracker{entries: make(map[string]*outcomeEntry)}
}

func (t *tracker) entry(id string) *outcomeEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		e = &outcomeEntry{done: make(chan struct{})}
		t.entries[id] = e
	}
	return e
}

func (t *tracker) forget(id string) {
	t.mu.Lock()
	delete(t.entries, id)
	t.mu.Unlock()
}

func (t *tracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *tracker) record(o worker.Outcome) {
	e := t.entry(o.Task.ID)
	e.out = o
	close(e.done)
}
