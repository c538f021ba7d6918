// Package presence drives the reconnection state machine: a transport-level
// disconnect starts a grace timer, and only when the timer fires without the
// user reappearing does the logical departure commit.
package presence

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultGracePeriod is the window between a transport disconnect and the
// logical departure.
const DefaultGracePeriod = 7 * time.Second

// ExpireFunc is invoked when a user's grace timer fires. The callback must
// re-read liveness before committing any departure; the timer is advisory,
// not authoritative.
type ExpireFunc func(userID string)

// Controller owns the pending-disconnect timer pool.
type Controller struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	grace    time.Duration
	onExpire ExpireFunc
	stopped  bool
	logger   *slog.Logger
}

// NewController creates a controller firing onExpire after grace. A zero or
// negative grace falls back to DefaultGracePeriod.
func NewController(grace time.Duration, onExpire ExpireFunc, logger *slog.Logger) *Controller {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Controller{
		timers:   make(map[string]*time.Timer),
		grace:    grace,
		onExpire: onExpire,
		logger:   logger.With("component", "presence"),
	}
}

// Schedule arms (or re-arms) the grace timer for userID.
func (c *Controller) Schedule(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if t, ok := c.timers[userID]; ok {
		t.Stop()
	}
	c.timers[userID] = time.AfterFunc(c.grace, func() {
		c.fire(userID)
	})
	c.logger.Debug("grace timer armed", "user_id", userID, "grace", c.grace)
}

// Cancel stops a pending timer. Returns true if one was pending, which is
// how the orchestrator distinguishes a reconnect from a fresh join.
func (c *Controller) Cancel(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.timers[userID]
	if !ok {
		return false
	}
	t.Stop()
	delete(c.timers, userID)
	c.logger.Debug("grace timer cancelled", "user_id", userID)
	return true
}

// InGrace reports whether userID has a pending timer.
func (c *Controller) InGrace(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[userID]
	return ok
}

// Stop cancels every pending timer. Used on shutdown and in tests.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
}

func (c *Controller) fire(userID string) {
	c.mu.Lock()
	_, pending := c.timers[userID]
	if pending {
		delete(c.timers, userID)
	}
	stopped := c.stopped
	c.mu.Unlock()

	// A Cancel that raced the firing goroutine wins: if the timer entry is
	// already gone the user reappeared and the departure must not commit.
	if !pending || stopped {
		return
	}
	c.onExpire(userID)
}
