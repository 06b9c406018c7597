package health

import (
	"context"
	"time"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates every component failed.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// DefaultCheckTimeout bounds each component check.
const DefaultCheckTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

type namedCheck struct {
	name string
	fn   CheckFunc
}

// Service coordinates health checks.
type Service struct {
	checks  []namedCheck
	timeout time.Duration
}

// New creates a Service. Either dependency may be nil: with no persistence
// backend there is no "database" check, with no provider no "embedding" check.
func New(db DBPinger, embedding EmbeddingChecker) *Service {
	s := &Service{timeout: DefaultCheckTimeout}
	if db != nil {
		s.checks = append(s.checks, namedCheck{"database", db.Ping})
	}
	if embedding != nil {
		s.checks = append(s.checks, namedCheck{"embedding", embedding.HealthCheck})
	}
	return s
}

// WithCheck adds a named component check.
func (s *Service) WithCheck(name string, fn CheckFunc) *Service {
	s.checks = append(s.checks, namedCheck{name, fn})
	return s
}

// WithTimeout overrides the per-check timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check runs every registered check.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult, len(s.checks))
	failed := 0
	for _, c := range s.checks {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := c.fn(cctx)
		cancel()
		if err != nil {
			checks[c.name] = CheckError
			failed++
			continue
		}
		checks[c.name] = CheckOK
	}

	status := Healthy
	switch {
	case failed > 0 && failed == len(s.checks):
		status = Unhealthy
	case failed > 0:
		status = Degraded
	}
	return Report{Status: status, Checks: checks}
}
