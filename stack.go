package apiflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/apiflow/internal/config"
	"github.com/petrijr/apiflow/internal/taskqueue"
	"github.com/petrijr/apiflow/internal/transport"
	"github.com/petrijr/apiflow/pkg/logger"
)

// Stack is an Engine, its task queue and its logger built from a Config.
// Close releases the store connection.
type Stack struct {
	Engine Engine
	Logger *slog.Logger
	Config Config

	queue   taskqueue.Queue
	closers []func() error
}

// Open builds a Stack: the logger from cfg.Log, the HTTP transport from
// cfg.Timeout, and the engine and queue on the store selected by
// cfg.Store.Driver. extra is applied to the engine config last.
func Open(ctx context.Context, cfg Config, extra ...func(*EngineConfig)) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.NewSlog(cfg.Logger())

	ecfg := EngineConfig{
		Transport:  transport.New(transport.Config{Timeout: cfg.Timeout}),
		Observer:   NewLoggingObserver(log),
		Globals:    cfg.Variables,
		BaseURL:    cfg.BaseURL,
		Headers:    cfg.Headers,
		Extraction: cfg.ExtractionPolicy(),
		Logger:     log,
	}
	for _, fn := range extra {
		fn(&ecfg)
	}

	s := &Stack{Logger: log, Config: cfg}
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := sql.Open("sqlite", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.DSN, err)
		}
		s.closers = append(s.closers, db.Close)
		if s.Engine, err = NewSQLiteEngine(db, ecfg); err != nil {
			_ = s.Close()
			return nil, err
		}
		if s.queue, err = taskqueue.NewSQLiteQueue(db); err != nil {
			_ = s.Close()
			return nil, err
		}
	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr})
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.Store.RedisAddr, err)
		}
		s.Engine = NewRedisEngine(client, cfg.Store.Prefix, ecfg)
		s.queue = taskqueue.NewRedisQueue(client, cfg.Store.Prefix)
	case config.DriverPostgres:
		db, err := sql.Open("pgx", cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if s.Engine, err = NewPostgresEngine(ctx, db, ecfg); err != nil {
			_ = s.Close()
			return nil, err
		}
		if s.queue, err = taskqueue.NewPostgresQueue(ctx, db); err != nil {
			_ = s.Close()
			return nil, err
		}
	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("mongo %s: %w", cfg.Store.MongoURI, err)
		}
		s.closers = append(s.closers, func() error { return client.Disconnect(context.Background()) })
		if err := client.Ping(ctx, nil); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mongo %s: %w", cfg.Store.MongoURI, err)
		}
		if s.Engine, err = NewMongoEngine(ctx, client, cfg.Store.Database, ecfg); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.queue = taskqueue.NewMongoQueue(client, cfg.Store.Database)
	default:
		s.Engine = NewInMemoryEngine(ecfg)
		s.queue = taskqueue.NewInMemoryQueue(0)
	}

	log.Debug("stack opened", "driver", cfg.Store.Driver, "base_url", cfg.BaseURL)
	return s, nil
}

// Runner returns a batch Runner bounded by cfg.Parallel.Max.
func (s *Stack) Runner(tags ...string) *Runner {
	return NewRunner(s.Engine, RunnerOptions{
		MaxParallel: s.Config.Parallel.Max,
		Tags:        tags,
		Logger:      s.Logger,
	})
}

// Bundle returns a Registry and Worker consuming the stack's queue.
func (s *Stack) Bundle(wcfg WorkerConfig) *WorkerBundle {
	return newBundle(s.Engine, s.queue, EngineConfig{Logger: s.Logger}, wcfg)
}

// Close releases the store connection.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
