package health

import (
	"time"
)

// NewChecker creates a checker with no checks registered
func NewChecker() *Checker {
	return &Checker{
		checks:  make(map[string]registered),
		started: time.Now(),
	}
}

// Register adds or replaces the check called name
func (c *Checker) Register(name string, kind Kind, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{kind: kind, fn: check}
}

// Check runs every registered check
func (c *Checker) Check() Response {
	return c.run(func(Kind) bool { return true })
}

// CheckReadiness runs the readiness checks
func (c *Checker) CheckReadiness() Response {
	return c.run(func(k Kind) bool { return k == KindReadiness })
}

// CheckLiveness runs the liveness checks
func (c *Checker) CheckLiveness() Response {
	return c.run(func(k Kind) bool { return k == KindLiveness })
}

func (c *Checker) run(include func(Kind) bool) Response {
	c.mu.RLock()
	selected := make(map[string]CheckFunc, len(c.checks))
	for name, r := range c.checks {
		if include(r.kind) {
			selected[name] = r.fn
		}
	}
	c.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(selected)),
		Uptime:    time.Since(c.started),
	}

	for name, fn := range selected {
		start := time.Now()
		check := fn()
		check.Duration = time.Since(start)
		check.LastChecked = start
		if check.Name == "" {
			check.Name = name
		}
		response.Checks[name] = check
		response.Status = worse(response.Status, check.Status)
	}

	return response
}

// worse returns the more severe of two statuses
func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
