package room

import (
	"context"
	"sync"
)

// attemptScope owns everything one connection attempt registered, so a
// failed attempt can release exactly its own listeners.
type attemptScope struct {
	n      int
	ctx    context.Context
	cancel context.CancelFunc

	// ready is guarded by the coordinator's lock; it is set once the
	// initial peer set has been connected.
	ready bool

	mu     sync.Mutex
	undo   []func()
	failed bool
	closed bool
}

func newAttemptScope(parent context.Context, n int) *attemptScope {
	ctx, cancel := context.WithCancel(parent)
	return &attemptScope{n: n, ctx: ctx, cancel: cancel}
}

// add registers fn for teardown; on a closed scope it runs immediately.
func (a *attemptScope) add(fn func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		fn()
		return
	}
	a.undo = append(a.undo, fn)
	a.mu.Unlock()
}

func (a *attemptScope) markFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failed || a.closed {
		return false
	}
	a.failed = true
	return true
}

func (a *attemptScope) isFailed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}

func (a *attemptScope) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	undo := a.undo
	a.undo = nil
	a.mu.Unlock()

	a.cancel()
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}
