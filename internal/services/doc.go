// Package services defines shared utilities consumed by the pipeline stages
// and their external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, run IDs, stage names, and
//     correlation identifiers for logging.
//   - The failure taxonomy (invalid argument, not found, resource exhausted,
//     aborted, deadline exceeded, internal) plus the Wrap helper that tags
//     errors with a marker so the orchestrator, queue, and API can classify
//     them uniformly.
//
// Use these helpers when wiring new stage logic so error reporting stays
// uniform across the pipeline.
package services
