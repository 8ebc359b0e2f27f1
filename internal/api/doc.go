// Package api defines wire-format types, converters and the service layer
// behind the daemon's HTTP API. It translates queue tasks, sermon documents
// and progress values into transport-friendly DTOs that the CLI and other
// consumers can render without coupling to internal types.
//
// # Key Types
//
// Task: transport representation of a queue task with its payload, attempts
// and last error.
//
// Job: the combined view of one sermon job (document status, live progress
// and most recent task).
//
// DaemonStatus: daemon running state, workflow summary and dependencies.
//
// # Service
//
// Service implements every API operation over the queue store, the document
// store, the progress channel, the task generator and the workflow manager.
// The daemon's HTTP handlers and the in-process CLI fallback both call it,
// so the two paths return identical payloads.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Queue statuses are lowercase strings and
// document statuses keep their upper-case form. Timestamps use RFC3339 with
// milliseconds.
package api
