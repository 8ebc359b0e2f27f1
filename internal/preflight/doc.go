// Package preflight provides readiness checks for the executables, paths
// and backends sermonpipe depends on.
//
// These checks run in three contexts:
//   - The daemon calls RunAll at startup and logs every failed check.
//   - The CLI "sermonpipe deps" command renders the same results as a table.
//   - The API health endpoint pings the configured backends with CheckPing.
package preflight
