// Package worker runs queued workflow runs.
//
// A Worker pulls taskqueue.Tasks, resolves the workflow each one names and
// runs it on an api.Engine. Tasks whose run returned an error other than a
// DefinitionError are put back on the queue until Config.MaxAttempts is
// reached. Every task that will not be tried again is reported through
// Config.OnOutcome.
//
// Multiple workers can share one queue. With a SQLite or Redis queue they can
// live in separate processes, since both queues hand each task to exactly one
// consumer.
//
// Most applications use apiflow.LocalRunner or apiflow.NewSQLiteBundle,
// which wire an engine, a queue and workers together.
package worker
