package health

import (
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Kind selects which endpoint a check answers
type Kind int

const (
	// KindGeneral checks are reported by /health only
	KindGeneral Kind = iota
	// KindReadiness checks gate /health/ready and are included in /health
	KindReadiness
	// KindLiveness checks gate /health/live and are included in /health
	KindLiveness
)

// Check represents a health check for a specific component
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check
type CheckFunc func() Check

type registered struct {
	kind Kind
	fn   CheckFunc
}

// Checker runs the registered checks for the engine process
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registered
	started time.Time
}

// Response represents the overall health response
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    time.Duration    `json:"uptime_seconds"`
}
