package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter map so rotating client ids cannot
// exhaust memory.
const maxTrackedClients = 4096

// ClientLimiter applies a per-client token bucket to tool calls.
// Safe for concurrent use.
type ClientLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rpm      int
	burst    int
}

// NewClientLimiter builds a limiter allowing rpm calls per minute with
// the given burst. rpm <= 0 disables limiting.
func NewClientLimiter(rpm, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rpm:      rpm,
		burst:    burst,
	}
}

// Allow reports whether the client may make another call right now.
func (c *ClientLimiter) Allow(clientID string) bool {
	if c.rpm <= 0 {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	lim, ok := c.limiters[clientID]
	if !ok {
		if len(c.limiters) >= maxTrackedClients {
			for k := range c.limiters {
				delete(c.limiters, k)
				break
			}
		}
		lim = rate.NewLimiter(rate.Limit(float64(c.rpm)/60.0), c.burst)
		c.limiters[clientID] = lim
	}
	return lim.Allow()
}
