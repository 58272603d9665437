package docsync

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// WriteLimiter is a per-user sliding window.
type WriteLimiter struct {
	mu       sync.Mutex
	history  map[string][]time.Time
	limit    int
	interval time.Duration
	clock    clockwork.Clock
}

// NewWriteLimiter allows limit writes per interval. A non-positive limit
// disables limiting.
func NewWriteLimiter(limit int, interval time.Duration, clock clockwork.Clock) *WriteLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WriteLimiter{
		history:  make(map[string][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clock,
	}
}

func (rl *WriteLimiter) Allow(uid string) bool {
	if rl == nil || rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)
	return true
}

// Forget drops the window of a user with no open sockets.
func (rl *WriteLimiter) Forget(uid string) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	delete(rl.history, uid)
	rl.mu.Unlock()
}
