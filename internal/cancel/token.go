package cancel

import (
	"sync"
	"sync/atomic"

	"sermonpipe/internal/services"
)

// Token is a one-way cancellation flag shared by every stage of a run.
// The zero value is not usable; construct with New.
type Token struct {
	requested atomic.Bool
	once      sync.Once
	done      chan struct{}
	cause     atomic.Pointer[error]
}

// New returns a token that has not been cancelled.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel requests cancellation with the generic abort cause. Repeated calls
// are no-ops.
func (t *Token) Cancel() {
	t.CancelWithCause(services.ErrAborted)
}

// CancelWithCause requests cancellation and records cause if this is the first
// request. A nil cause is recorded as services.ErrAborted.
func (t *Token) CancelWithCause(cause error) {
	if t == nil {
		return
	}
	t.once.Do(func() {
		if cause == nil {
			cause = services.ErrAborted
		}
		t.cause.Store(&cause)
		t.requested.Store(true)
		close(t.done)
	})
}

// Requested reports whether cancellation has been requested.
func (t *Token) Requested() bool {
	if t == nil {
		return false
	}
	return t.requested.Load()
}

// Done is closed once cancellation is requested.
func (t *Token) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Cause returns the first cancellation cause, or nil when not cancelled.
func (t *Token) Cause() error {
	if t == nil {
		return nil
	}
	if p := t.cause.Load(); p != nil {
		return *p
	}
	return nil
}
