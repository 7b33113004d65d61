package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/apiflow/internal/builtins"
	"github.com/petrijr/apiflow/internal/expr"
	"github.com/petrijr/apiflow/internal/extract"
	"github.com/petrijr/apiflow/internal/graph"
	"github.com/petrijr/apiflow/internal/persistence"
	"github.com/petrijr/apiflow/internal/validate"
	"github.com/petrijr/apiflow/pkg/api"
)

// ErrNoTransport is reported by steps of an engine built without a transport.
var ErrNoTransport = errors.New("no transport configured")

// engineImpl is a synchronous, in-process engine implementation.
type engineImpl struct {
	results persistence.ResultStore
	events  persistence.EventStore

	observer  api.Observer
	transport api.Transport
	clock     api.Clock
	builtins  api.Builtins
	globals   map[string]any
	baseURL   string
	headers   map[string]string
	logger    *slog.Logger

	exprs     *expr.Engine
	validator *validate.Validator
	extractor *extract.Extractor
}

var _ api.Engine = (*engineImpl)(nil)

// Config describes how to construct an engineImpl. Zero values select the
// defaults: in-memory persistence, the system clock, a time-seeded RNG, the
// process environment and strict extraction.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
	Transport   api.Transport
	Clock       api.Clock
	RNG         api.RNG
	Env         builtins.EnvLookup

	// Builtins are layered over the default registry.
	Builtins api.Builtins

	// Globals seed the outermost scope layer of every run.
	Globals map[string]any

	// BaseURL is prefixed to relative endpoint paths.
	BaseURL string
	// Headers are sent with every request; step headers override them.
	Headers map[string]string

	Extraction    extract.Policy
	DefaultStatus func(status int) bool
	ExprCacheSize int

	// Logger receives teardown warnings and poll notices.
	Logger *slog.Logger
}

// NewInMemoryEngine creates an engine that keeps results and events in memory.
func NewInMemoryEngine(cfg Config) api.Engine {
	cfg.Persistence = persistence.NewInMemory()
	return NewEngineWithConfig(cfg)
}

// NewSQLiteEngine creates an engine that stores results and events in db.
func NewSQLiteEngine(db *sql.DB, cfg Config) (api.Engine, error) {
	results, err := persistence.NewSQLiteResultStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = persistence.Persistence{Results: results, Events: events}
	return NewEngineWithConfig(cfg), nil
}

// NewRedisEngine creates an engine that stores results and events in Redis
// under prefix ("apiflow:" when empty).
func NewRedisEngine(client *redis.Client, prefix string, cfg Config) api.Engine {
	store := persistence.NewRedisStore(client, prefix)
	cfg.Persistence = persistence.Persistence{Results: store, Events: store}
	return NewEngineWithConfig(cfg)
}

// NewPostgresEngine creates an engine that stores results and events in a
// PostgreSQL database opened with the pgx driver.
func NewPostgresEngine(ctx context.Context, db *sql.DB, cfg Config) (api.Engine, error) {
	store, err := persistence.NewPostgresStore(ctx, db)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = persistence.Persistence{Results: store, Events: store}
	return NewEngineWithConfig(cfg), nil
}

// NewMongoEngine creates an engine that stores results and events in the
// MongoDB database dbName.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, cfg Config) (api.Engine, error) {
	store, err := persistence.NewMongoStore(ctx, client, dbName)
	if err != nil {
		return nil, err
	}
	cfg.Persistence = persistence.Persistence{Results: store, Events: store}
	return NewEngineWithConfig(cfg), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = api.SystemClock{}
	}
	transport := cfg.Transport
	if transport == nil {
		transport = api.TransportFunc(func(context.Context, api.ResolvedRequest) (*api.Response, error) {
			return nil, ErrNoTransport
		})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := cfg.Persistence
	if p.Results == nil {
		p.Results = persistence.NewInMemoryStore()
	}
	if p.Events == nil {
		p.Events = persistence.NoopEventStore{}
	}

	fns := builtins.Default(builtins.Deps{Clock: clock, RNG: cfg.RNG, Env: cfg.Env}).Merge(cfg.Builtins)

	var exprOpts []expr.Option
	if cfg.ExprCacheSize > 0 {
		exprOpts = append(exprOpts, expr.WithCacheSize(cfg.ExprCacheSize))
	}
	exprs := expr.New(exprOpts...)

	valOpts := []validate.Option{validate.WithBuiltins(fns)}
	if cfg.DefaultStatus != nil {
		valOpts = append(valOpts, validate.WithDefaultStatus(cfg.DefaultStatus))
	}

	return &engineImpl{
		results:   p.Results,
		events:    p.Events,
		observer:  obs,
		transport: transport,
		clock:     clock,
		builtins:  fns,
		globals:   cfg.Globals,
		baseURL:   cfg.BaseURL,
		headers:   cfg.Headers,
		logger:    logger,
		exprs:     exprs,
		validator: validate.New(exprs, valOpts...),
		extractor: extract.New(cfg.Extraction),
	}
}

func (e *engineImpl) newExecutor(run api.RunInfo) *executor {
	return &executor{
		run:       run,
		exprs:     e.exprs,
		validator: e.validator,
		extractor: e.extractor,
		transport: e.transport,
		clock:     e.clock,
		builtins:  e.builtins,
		observer:  e.observer,
		events:    eventRecorder{store: e.events, run: run, clock: e.clock, logger: e.logger},
		logger:    e.logger,
		baseURL:   e.baseURL,
		headers:   e.headers,
	}
}

func (e *engineImpl) Run(ctx context.Context, wf api.Workflow, vars map[string]any) (*api.WorkflowResult, error) {
	run := api.RunInfo{
		ID:       uuid.NewString(),
		Workflow: wf.Name,
		Started:  e.clock.Now(),
	}
	res := &api.WorkflowResult{
		ID:        run.ID,
		Name:      wf.Name,
		Status:    api.StatusRunning,
		Setup:     []api.StepResult{},
		Steps:     []api.StepResult{},
		Teardown:  []api.StepResult{},
		StartedAt: run.Started,
	}

	x := e.newExecutor(run)
	e.observer.OnWorkflowStart(ctx, run)
	x.events.record(ctx, api.EventWorkflowStarted, "", "", "")

	st, defErr := e.execute(ctx, x, wf, vars, res)
	aggregate(res, st, defErr)
	res.Duration = e.clock.Now().Sub(res.StartedAt)

	switch res.Status {
	case api.StatusSuccess:
		x.events.record(ctx, api.EventWorkflowCompleted, "", "", "")
	case api.StatusTimedOut:
		x.events.record(ctx, api.EventWorkflowTimedOut, "", "", res.Error)
	default:
		x.events.record(ctx, api.EventWorkflowFailed, "", "", res.Error)
	}
	e.observer.OnWorkflowCompleted(ctx, run, res)

	if err := e.results.SaveResult(context.WithoutCancel(ctx), res); err != nil {
		return res, fmt.Errorf("save result %s: %w", res.ID, err)
	}
	return res, defErr
}

func (e *engineImpl) Plan(wf api.Workflow) (*api.ExecutionPlan, error) {
	return graph.Plan(wf)
}

func (e *engineImpl) GetResult(ctx context.Context, id string) (*api.WorkflowResult, error) {
	res, err := e.results.GetResult(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("result %s: %w", id, err)
	}
	return res, nil
}

func (e *engineImpl) ListResults(ctx context.Context, opts api.ResultListOptions) ([]*api.WorkflowResult, error) {
	return e.results.ListResults(ctx, opts)
}

func (e *engineImpl) ListEvents(ctx context.Context, runID string) ([]api.RunEvent, error) {
	return e.events.ListEvents(ctx, runID)
}
