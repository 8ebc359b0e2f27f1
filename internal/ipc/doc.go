// Package ipc is the CLI's client for the daemon's HTTP API.
//
// Every call takes a context and decodes the daemon's JSON envelopes into the
// api package DTOs. Failed calls return an *APIError whose kind maps back to
// the services sentinels, so callers classify remote failures with errors.Is
// exactly as they would local ones. Dial probes the health endpoint so CLI
// commands fail fast when the daemon is offline.
package ipc
