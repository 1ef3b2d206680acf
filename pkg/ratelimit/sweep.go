package ratelimit

import (
	"context"
	"time"
)

// DefaultIdleEviction is how long a key may sit untouched before the sweeper
// drops it.
const DefaultIdleEviction = 24 * time.Hour

// Sweep evicts keys idle for longer than idleFor and returns the number of
// evicted entries. State is process-local, so without sweeping the map grows
// with every (owner, service) pair ever seen.
func (l *Limiter) Sweep(idleFor time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleFor)
	evicted := 0
	for k, s := range l.states {
		if s.lastSeen.Before(cutoff) {
			delete(l.states, k)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep on the given interval until the context is
// cancelled. It is independent of the request path.
func (l *Limiter) StartSweeper(ctx context.Context, interval, idleFor time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if idleFor <= 0 {
		idleFor = DefaultIdleEviction
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(idleFor); n > 0 {
				l.logger.Debug("swept idle limiter state", "evicted", n)
			}
		}
	}
}
