// Package apiflow runs API test workflows: named scenarios of HTTP steps
// that share variables, depend on each other, and check every response.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. Workflow and Step (declared in code or YAML)
//  2. Engine
//  3. Runner
//  4. Worker and LocalRunner
//
// # Workflows
//
// A Workflow has setup, main and teardown steps. Each Step calls one
// endpoint; its path, headers, query and body may contain ${...}
// expressions over workflow variables, values extracted from earlier
// responses, steps.<name>.status, and builtins such as uuid or
// now:format=YYYY-MM-DD.
//
// Main steps form a dependency graph. The engine groups them into levels,
// runs each level sequentially or in parallel, and never starts a step
// before its dependencies finished. Steps may loop over a count or a
// sequence, poll until a condition holds, retry with fixed or exponential
// backoff, and be skipped by a condition.
//
// Workflows are built with WorkflowBuilder:
//
//	wf := apiflow.New("users").
//	    Step(apiflow.NewStep("create", "POST /users").
//	        Body(map[string]any{"name": "ada"}).
//	        ExpectStatus(201).
//	        Extract("user_id", "$.id")).
//	    MustBuild()
//
// or loaded from YAML with LoadWorkflows.
//
// # Engine
//
// The Engine runs one workflow to completion and stores its WorkflowResult
// and event history. Engines can be backed by memory, SQLite or Redis:
//
//	eng := apiflow.NewInMemoryEngine(apiflow.EngineConfig{
//	    Transport: apiflow.NewHTTPTransport(10 * time.Second),
//	    BaseURL:   "https://api.example.com",
//	})
//	res, err := eng.Run(ctx, wf, nil)
//
// Validation never stops at the first mismatch: a failed step carries one
// diagnostic per wrong status, header, body field, timing or custom check.
//
// # Runner
//
// Runner executes a batch of workflows with bounded concurrency and returns
// their results in input order. Open builds an engine, runner and queue
// from a Config loaded with LoadConfig.
//
// # Worker and LocalRunner
//
// Runs can also be queued. A Worker consumes queued runs from an in-memory,
// SQLite or Redis queue; NewSQLiteBundle and NewRedisBundle wire a durable
// engine and queue together. LocalRunner is the in-process variant for
// development and tests: Submit enqueues a run and Wait returns its result.
package apiflow
