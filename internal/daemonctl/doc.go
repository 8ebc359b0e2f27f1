// Package daemonctl starts, stops and inspects the sermonpipe daemon from
// the CLI. The daemon is reached over its HTTP API; the pid file in the log
// directory is the fallback when the API does not answer.
package daemonctl
