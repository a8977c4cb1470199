package health

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single round of checks.
const DefaultTimeout = 5 * time.Second

// NewChecker creates a checker with no registered checks.
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
		timeout: DefaultTimeout,
		now:     time.Now,
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every registered check. The overall status is the worst
// status reported.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	response := Response{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]Check, len(c.checks)),
		Uptime:    now.Sub(c.started),
	}

	for name, fn := range c.checks {
		start := c.now()
		check := fn(ctx)
		if check.Name == "" {
			check.Name = name
		}
		check.Duration = c.now().Sub(start)
		check.LastChecked = start
		response.Checks[name] = check

		switch {
		case check.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case check.Status == StatusDegraded && response.Status != StatusUnhealthy:
			response.Status = StatusDegraded
		}
	}

	return response
}
