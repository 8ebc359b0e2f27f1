package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollReturnsWhenAvailable(t *testing.T) {
	calls := 0
	v, err := Poll(context.Background(), 3, time.Millisecond, func(context.Context) (string, bool, error) {
		calls++
		return "doc", calls == 2, nil
	})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if v != "doc" || calls != 2 {
		t.Fatalf("unexpected value %q after %d calls", v, calls)
	}
}

func TestPollExhausts(t *testing.T) {
	calls := 0
	_, err := Poll(context.Background(), 3, time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, nil
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestPollStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Poll(context.Background(), 5, time.Millisecond, func(context.Context) (int, bool, error) {
		calls++
		return 0, false, boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected immediate boom, got %v after %d calls", err, calls)
	}
}

func TestPollHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Poll(ctx, 10, time.Hour, func(context.Context) (int, bool, error) {
		calls++
		cancel()
		return 0, false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("503"))
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third call, got %v after %d", err, calls)
	}

	calls = 0
	permanent := errors.New("404")
	err = Do(context.Background(), 3, time.Millisecond, func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("expected permanent failure after one call, got %v after %d", err, calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	min := 10 * time.Second
	max := 300 * time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{10, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := BackoffDelay(tt.attempt, min, max); got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
