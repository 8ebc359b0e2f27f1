// Package deadline races a pipeline run against its wall-clock budget.
//
// The budget is the dispatcher timeout minus a safety margin, so the run can
// record its own failure before the dispatcher kills it. The first of run
// completion and timer expiry decides the outcome; the loser is drained
// briefly so temporary files are gone before the worker takes the next task.
package deadline
