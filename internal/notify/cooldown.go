package notify

import (
	"sync"
	"time"
)

// Cooldown remembers when each key was last allowed and suppresses repeats
// within the window. Anomaly IDs are stable across runs, so keying on team
// plus anomaly ID stops the same alert from firing every interval.
//
// Cooldown is safe for concurrent use.
type Cooldown struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

// NewCooldown returns a Cooldown with the given window. A window <= 0 allows
// everything.
func NewCooldown(window time.Duration) *Cooldown {
	return &Cooldown{window: window, last: make(map[string]time.Time)}
}

// SetWindow changes the window for subsequent calls.
func (c *Cooldown) SetWindow(window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.window = window
}

// Allow reports whether key may fire at now and, if so, records it.
func (c *Cooldown) Allow(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.window <= 0 {
		return true
	}
	c.prune(now)
	if last, ok := c.last[key]; ok && now.Sub(last) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// prune drops keys whose window has passed. Callers hold mu.
func (c *Cooldown) prune(now time.Time) {
	for k, t := range c.last {
		if now.Sub(t) >= c.window {
			delete(c.last, k)
		}
	}
}
