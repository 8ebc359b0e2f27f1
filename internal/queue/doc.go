// Package queue persists pipeline tasks in SQLite and exposes the dispatcher
// operations the workflow manager drives them with.
//
// A task moves pending → running → completed, or back to pending with a
// backoff delay when a retryable failure leaves attempts to spare. Tasks whose
// worker stops heartbeating are reclaimed, so delivery is at-least-once and
// runs must be idempotent.
//
// The database is transient storage for in-flight work rather than an
// archive. Schema changes bump schemaVersion in schema.go; operators clear
// the database to adopt a new schema.
package queue
