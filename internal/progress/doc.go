// Package progress publishes per-job progress percentages.
//
// A Reporter maps each stage's local 0..100 progress into its Band of the
// overall range and forwards strictly increasing integer values to a Channel
// (Redis in production, memory for one-shot runs and tests). The value is
// cleared when the run ends.
package progress
