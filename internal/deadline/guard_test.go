package deadline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sermonpipe/internal/cancel"
	"sermonpipe/internal/logging"
	"sermonpipe/internal/services"
)

func TestRunReturnsResultWithinBudget(t *testing.T) {
	g := Guard{Budget: time.Second, Drain: time.Second, Logger: logging.NewNop()}
	boom := errors.New("boom")
	token := cancel.New()
	err := g.Run(context.Background(), token, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn's error, got %v", err)
	}
	if token.Requested() {
		t.Fatal("token should not be cancelled when fn wins")
	}
}

func TestRunTimesOutAndDrainsCleanup(t *testing.T) {
	g := Guard{Budget: 50 * time.Millisecond, Drain: 2 * time.Second, Logger: logging.NewNop()}
	token := cancel.New()
	var cleaned atomic.Bool
	var ctxCancelled atomic.Bool

	err := g.Run(context.Background(), token, func(ctx context.Context) error {
		<-token.Done()
		<-ctx.Done()
		ctxCancelled.Store(true)
		time.Sleep(20 * time.Millisecond)
		cleaned.Store(true)
		return services.ErrAborted
	})
	if !errors.Is(err, services.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if errors.Is(err, services.ErrAborted) {
		t.Fatalf("loser's result leaked into %v", err)
	}
	if !errors.Is(token.Cause(), services.ErrDeadlineExceeded) {
		t.Fatalf("expected token cause deadline exceeded, got %v", token.Cause())
	}
	if !ctxCancelled.Load() || !cleaned.Load() {
		t.Fatal("expected cleanup to finish before Run returned")
	}
}

func TestRunDrainIsBounded(t *testing.T) {
	g := Guard{Budget: 20 * time.Millisecond, Drain: 50 * time.Millisecond, Logger: logging.NewNop()}
	release := make(chan struct{})
	defer close(release)

	started := time.Now()
	err := g.Run(context.Background(), cancel.New(), func(context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, services.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("drain not bounded: %v", elapsed)
	}
}

func TestRunParentCancellationAborts(t *testing.T) {
	g := Guard{Budget: time.Minute, Drain: time.Second, Logger: logging.NewNop()}
	ctx, cancelCtx := context.WithCancel(context.Background())
	token := cancel.New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancelCtx()
	}()
	err := g.Run(ctx, token, func(context.Context) error {
		<-token.Done()
		return services.ErrAborted
	})
	if !errors.Is(err, services.ErrAborted) {
		t.Fatalf("expected aborted, got %v", err)
	}
	if !errors.Is(token.Cause(), services.ErrAborted) {
		t.Fatalf("expected token cause aborted, got %v", token.Cause())
	}
}

func TestZeroBudgetDisablesGuard(t *testing.T) {
	g := Guard{Logger: logging.NewNop()}
	calls := 0
	if err := g.Run(context.Background(), cancel.New(), func(context.Context) error {
		calls++
		time.Sleep(10 * time.Millisecond)
		return nil
	}); err != nil || calls != 1 {
		t.Fatalf("expected passthrough, got %v calls=%d", err, calls)
	}
}
