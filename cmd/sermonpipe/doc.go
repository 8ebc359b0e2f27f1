// Package main hosts the sermonpipe CLI entrypoint and command graph.
//
// The Cobra command tree runs the daemon, controls its lifecycle, and turns
// terminal invocations into calls against the daemon's HTTP API. When the
// daemon is not running, job and sermon commands fall back to operating on
// the configured stores directly. A one-shot run command processes a single
// payload in the foreground.
package main
