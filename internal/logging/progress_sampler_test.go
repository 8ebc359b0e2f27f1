package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	for _, size := range []float64{0, -1} {
		s := NewProgressSampler(size)
		if s.bucketSize != 5 {
			t.Fatalf("bucketSize = %v, want 5", s.bucketSize)
		}
		if s.lastBucket != -1 {
			t.Fatalf("lastBucket = %d, want -1", s.lastBucket)
		}
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "transcode") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent float64
		stage   string
		want    bool
	}{
		{0, "transcode", true},
		{3, "transcode", false},
		{9.9, "transcode", false},
		{10, "transcode", true},
		{15, "transcode", false},
		{35, "transcode", true},
		{20, "transcode", false},
		{1, "merge", true},
		{-1, "merge", false},
		{100, "merge", true},
		{120, "merge", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.stage); got != step.want {
			t.Fatalf("step %d (%v %s): got %v, want %v", i, step.percent, step.stage, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(5)
	s.ShouldLog(50, "download")
	s.Reset()
	if !s.ShouldLog(50, "download") {
		t.Fatal("expected emit after reset")
	}
}
