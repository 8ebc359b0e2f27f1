package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.RecordOutcome("processed")
	r.RecordOutcome("processed")
	r.RecordOutcome("deadline_exceeded")
	r.RunStarted()
	r.RunStarted()
	r.RunFinished()
	r.SetQueueDepth("pending", 4)
	r.ObserveRequest("GET", "/api/jobs/:id", 200, 5*time.Millisecond)
	r.ObserveStage("transcode", 3*time.Second)

	if got := testutil.ToFloat64(r.runs.WithLabelValues("processed")); got != 2 {
		t.Fatalf("processed runs = %v", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues("deadline_exceeded")); got != 1 {
		t.Fatalf("deadline runs = %v", got)
	}
	if got := testutil.ToFloat64(r.activeRuns); got != 1 {
		t.Fatalf("active runs = %v", got)
	}
	if got := testutil.ToFloat64(r.queueDepth.WithLabelValues("pending")); got != 4 {
		t.Fatalf("queue depth = %v", got)
	}
	if got := testutil.ToFloat64(r.requests.WithLabelValues("200", "GET", "/api/jobs/:id")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
	if n := testutil.CollectAndCount(r.stageDuration); n != 1 {
		t.Fatalf("expected one stage series, got %d", n)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.RecordOutcome("processed")
	r.ObserveStage("merge", time.Second)
	r.RunStarted()
	r.RunFinished()
	r.SetQueueDepth("pending", 1)
	r.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	if r.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}
