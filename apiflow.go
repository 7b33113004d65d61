package apiflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/apiflow/internal/config"
	"github.com/petrijr/apiflow/internal/engine"
	"github.com/petrijr/apiflow/internal/extract"
	"github.com/petrijr/apiflow/internal/loader"
	"github.com/petrijr/apiflow/internal/transport"
	"github.com/petrijr/apiflow/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine            = api.Engine
	Workflow          = api.Workflow
	Settings          = api.Settings
	Step              = api.Step
	Endpoint          = api.Endpoint
	RequestSpec       = api.RequestSpec
	ExpectSpec        = api.ExpectSpec
	LoopSpec          = api.LoopSpec
	PollSpec          = api.PollSpec
	PollCondition     = api.PollCondition
	RetrySpec         = api.RetrySpec
	FailurePolicy     = api.FailurePolicy
	WorkflowResult    = api.WorkflowResult
	StepResult        = api.StepResult
	Summary           = api.Summary
	ExecutionPlan     = api.ExecutionPlan
	RunEvent          = api.RunEvent
	ResultListOptions = api.ResultListOptions
	Status            = api.Status
	StepStatus        = api.StepStatus

	Transport       = api.Transport
	TransportFunc   = api.TransportFunc
	ResolvedRequest = api.ResolvedRequest
	Response        = api.Response

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	DefinitionError = api.DefinitionError

	// EngineConfig tunes engine construction; see the New*Engine helpers.
	EngineConfig = engine.Config
	// Registry holds named workflows for batch and queued runs.
	Registry = engine.Registry
	// Config is the file and environment backed runner configuration.
	Config = config.Config
	// Filter selects workflows by name and tag when loading definitions.
	Filter = loader.Filter
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ParseEndpoint        = api.ParseEndpoint
	NewRegistry          = engine.NewRegistry
	DefaultConfig        = config.Default
	LoadConfig           = config.Load
)

// Re-export status values for convenience.

const (
	StatusRunning  = api.StatusRunning
	StatusSuccess  = api.StatusSuccess
	StatusFailed   = api.StatusFailed
	StatusTimedOut = api.StatusTimedOut

	StepSuccess  = api.StepSuccess
	StepFailed   = api.StepFailed
	StepSkipped  = api.StepSkipped
	StepTimedOut = api.StepTimedOut

	OnFailureAbort    = api.OnFailureAbort
	OnFailureContinue = api.OnFailureContinue
	OnFailureRetry    = api.OnFailureRetry
)

// Extraction policies for EngineConfig.Extraction.
const (
	ExtractStrict     = extract.Strict
	ExtractPermissive = extract.Permissive
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine that keeps results and events in memory.
func NewInMemoryEngine(cfg EngineConfig) Engine {
	return engine.NewInMemoryEngine(cfg)
}

// NewSQLiteEngine returns an Engine that stores results and events in db.
// The caller is responsible for importing a SQLite driver, e.g.:
//
//	import _ "modernc.org/sqlite"
func NewSQLiteEngine(db *sql.DB, cfg EngineConfig) (Engine, error) {
	return engine.NewSQLiteEngine(db, cfg)
}

// NewRedisEngine returns an Engine that stores results and events in Redis
// under prefix.
func NewRedisEngine(client *redis.Client, prefix string, cfg EngineConfig) Engine {
	return engine.NewRedisEngine(client, prefix, cfg)
}

// NewPostgresEngine returns an Engine that stores results and events in a
// PostgreSQL database. The caller imports the driver:
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
func NewPostgresEngine(ctx context.Context, db *sql.DB, cfg EngineConfig) (Engine, error) {
	return engine.NewPostgresEngine(ctx, db, cfg)
}

// NewMongoEngine returns an Engine that stores results and events in the
// MongoDB database dbName ("apiflow" when empty).
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, cfg EngineConfig) (Engine, error) {
	return engine.NewMongoEngine(ctx, client, dbName, cfg)
}

// NewHTTPTransport returns the resty-backed Transport. timeout bounds each
// request; zero means no limit beyond the step's own deadline.
func NewHTTPTransport(timeout time.Duration) Transport {
	return transport.New(transport.Config{Timeout: timeout})
}

// Run is a convenience wrapper around Engine.Run.
func Run(ctx context.Context, eng Engine, wf Workflow, vars map[string]any) (*WorkflowResult, error) {
	return eng.Run(ctx, wf, vars)
}

// Plan is a convenience wrapper around Engine.Plan.
func Plan(eng Engine, wf Workflow) (*ExecutionPlan, error) {
	return eng.Plan(wf)
}

// GetResult is a convenience wrapper around Engine.GetResult.
func GetResult(ctx context.Context, eng Engine, id string) (*WorkflowResult, error) {
	return eng.GetResult(ctx, id)
}

// ListResults is a convenience wrapper around Engine.ListResults.
func ListResults(ctx context.Context, eng Engine, opts ResultListOptions) ([]*WorkflowResult, error) {
	return eng.ListResults(ctx, opts)
}

// LoadWorkflows reads YAML definition files or directories and returns the
// workflows selected by filter, in file order.
func LoadWorkflows(filter Filter, paths ...string) ([]Workflow, error) {
	return loader.Load(filter, paths...)
}

// ParseWorkflows decodes a YAML definition document.
func ParseWorkflows(data []byte) ([]Workflow, error) {
	f, err := loader.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	return f.Workflows, nil
}

// Passed reports whether every result succeeded.
func Passed(results []*WorkflowResult) bool {
	for _, r := range results {
		if r == nil || r.Status != StatusSuccess {
			return false
		}
	}
	return true
}
