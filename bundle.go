package apiflow

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/apiflow/internal/taskqueue"
	"github.com/petrijr/apiflow/pkg/worker"
)

type (
	// WorkerConfig tunes workers built by the bundle constructors.
	WorkerConfig = worker.Config
	// Outcome reports one processed queued run.
	Outcome = worker.Outcome
)

// WorkerBundle wires together an Engine, a Registry, a durable task queue
// and a Worker that consumes tasks from that queue.
type WorkerBundle struct {
	Engine    Engine
	Workflows *Registry
	Worker    *worker.Worker

	// queue is kept unexported; it is primarily useful for tests.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Results, events and queued runs are persisted in
// the provided *sql.DB.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:apiflow.db?_pragma=journal_mode(WAL)")
//	bundle, err := apiflow.NewSQLiteBundle(db, apiflow.EngineConfig{Transport: t}, apiflow.WorkerConfig{MaxAttempts: 3})
//	// register workflows on bundle.Workflows
//	// enqueue runs via bundle.Worker.Enqueue
func NewSQLiteBundle(db *sql.DB, cfg EngineConfig, wcfg WorkerConfig) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db, cfg)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, q, cfg, wcfg), nil
}

// NewRedisBundle is NewSQLiteBundle for Redis; keys and the task list share
// prefix.
func NewRedisBundle(client *redis.Client, prefix string, cfg EngineConfig, wcfg WorkerConfig) *WorkerBundle {
	eng := NewRedisEngine(client, prefix, cfg)
	return newBundle(eng, taskqueue.NewRedisQueue(client, prefix), cfg, wcfg)
}

// NewPostgresBundle is NewSQLiteBundle for a PostgreSQL database opened with
// the pgx driver.
func NewPostgresBundle(ctx context.Context, db *sql.DB, cfg EngineConfig, wcfg WorkerConfig) (*WorkerBundle, error) {
	eng, err := NewPostgresEngine(ctx, db, cfg)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewPostgresQueue(ctx, db)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, q, cfg, wcfg), nil
}

// NewMongoBundle is NewSQLiteBundle for MongoDB; results, events and the
// task collection live in dbName.
func NewMongoBundle(ctx context.Context, client *mongo.Client, dbName string, cfg EngineConfig, wcfg WorkerConfig) (*WorkerBundle, error) {
	eng, err := NewMongoEngine(ctx, client, dbName, cfg)
	if err != nil {
		return nil, err
	}
	return newBundle(eng, taskqueue.NewMongoQueue(client, dbName), cfg, wcfg), nil
}

func newBundle(eng Engine, q taskqueue.Queue, cfg EngineConfig, wcfg WorkerConfig) *WorkerBundle {
	if wcfg.Logger == nil {
		wcfg.Logger = cfg.Logger
	}
	reg := NewRegistry()
	return &WorkerBundle{
		Engine:    eng,
		Workflows: reg,
		Worker:    worker.NewWithConfig(eng, reg, q, wcfg),
		queue:     q,
	}
}

// Pending returns the approximate number of queued runs.
func (b *WorkerBundle) Pending() int {
	return b.queue.Len()
}
