package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Hour

// MemoryLimiter is a mutex-guarded sliding-window limiter keeping per-key
// request timestamps in process memory. Counters are only meaningful within
// a single instance.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	window   time.Duration
	limit    int
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryLimiter constructs a limiter allowing limit requests per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		requests: make(map[string][]time.Time),
		window:   window,
		limit:    limit,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go l.sweep()
	return l
}

// Allow records an attempt for key and reports whether it fits the quota.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	valid := l.requests[key][:0]
	for _, at := range l.requests[key] {
		if at.After(windowStart) {
			valid = append(valid, at)
		}
	}

	if len(valid) >= l.limit {
		l.requests[key] = valid
		return false, nil
	}

	l.requests[key] = append(valid, now)
	return true, nil
}

// Close stops the background sweep goroutine. Safe to call more than once;
// Allow keeps working afterwards, idle keys just stop being reclaimed.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// sweep drops keys with no recent activity so idle identities do not pin
// memory forever. Runs until Close.
func (l *MemoryLimiter) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		l.mu.Lock()
		cutoff := l.now().Add(-l.window)
		for key, times := range l.requests {
			live := false
			for _, at := range times {
				if at.After(cutoff) {
					live = true
					break
				}
			}
			if !live {
				delete(l.requests, key)
			}
		}
		l.mu.Unlock()
	}
}
