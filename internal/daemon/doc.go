// Package daemon coordinates the long-running sermonpipe process.
//
// It wires configuration, queue storage, the workflow manager and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. The API server is a fiber app exposing job submission, job
// status, abort and queue maintenance routes plus health and Prometheus
// metrics endpoints.
//
// Keep orchestration logic here: pipeline steps live in their respective
// packages while the daemon focuses on startup, shutdown and high level
// coordination.
package daemon
