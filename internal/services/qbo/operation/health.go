package operation

import (
	"time"

	"github.com/louisbranch/qbo-mcp/internal/services/qbo/auth"
	"github.com/louisbranch/qbo-mcp/internal/services/qbo/breaker"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// StatusReporter is implemented by auth providers that can describe
// themselves.
type StatusReporter interface {
	Status() auth.Status
}

// Health is a point-in-time health report.
type Health struct {
	Status    string           `json:"status"`
	Breaker   breaker.Snapshot `json:"circuitBreaker"`
	Auth      *auth.Status     `json:"auth,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Health combines breaker and auth state. An open breaker is unhealthy; a
// half-open breaker or missing authentication is degraded.
func (e *Executor) Health() Health {
	report := Health{
		Status:    StatusHealthy,
		Breaker:   e.breaker.Snapshot(),
		Timestamp: e.now().UTC(),
	}
	if reporter, ok := e.auth.(StatusReporter); ok {
		status := reporter.Status()
		report.Auth = &status
		if !status.Authenticated {
			report.Status = StatusDegraded
		}
	}
	switch report.Breaker.State {
	case breaker.Open:
		report.Status = StatusUnhealthy
	case breaker.HalfOpen:
		report.Status = StatusDegraded
	}
	return report
}
