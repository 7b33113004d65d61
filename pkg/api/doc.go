// Package api contains the core building blocks used by the apiflow workflow
// engine. It defines the declarative workflow model, the results the engine
// produces, and the collaborator interfaces the engine depends on.
//
// Most users interact with the higher-level apiflow package, which re-exports
// selected types and helpers from this package. The api package is intended
// for advanced use cases, custom integrations, or contributors extending the
// engine itself.
//
// # Workflow Definitions
//
// A Workflow is a named scenario with optional setup and teardown phases and
// a list of main steps. Each Step describes one API call: an Endpoint, a
// templated RequestSpec, an ExpectSpec the response must satisfy, and a set
// of extraction paths whose values become variables for later steps.
//
// Main steps may declare DependsOn edges. The engine groups them into an
// ExecutionPlan of levels; steps within a level may run concurrently when
// Settings.Parallel is set.
//
// Steps may also be looped (LoopSpec), polled (PollSpec) and retried
// (RetrySpec). The step's FailurePolicy decides whether a failure aborts the
// run, is recorded and skipped past, or triggers retries.
//
// # Results
//
// Every step yields exactly one StepResult holding its status, the attempts
// made and the variables it extracted. A WorkflowResult aggregates them per
// phase and is the stable JSON contract handed to reporters.
//
// # Collaborators
//
// The engine never performs I/O directly. Requests go through a Transport,
// time through a Clock, randomness through an RNG, and expression functions
// through a Builtins registry. All of them can be replaced in tests.
//
// # Observability
//
// The Observer interface reports run and step lifecycle events. NoopObserver,
// LoggingObserver and BasicMetrics are ready-made implementations; combine
// them with NewCompositeObserver.
package api
