// Package arena implements the per-run scratch area. Every temp file a run
// creates is registered here and deleted by a single deferred RemoveAll,
// whatever the outcome of the run.
package arena
