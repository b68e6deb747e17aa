package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
)

// Status is the health of one dependency or of the whole relay.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func (s Status) worse(than Status) bool {
	return s.severity() > than.severity()
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check reports the health of one dependency.
type Check func(ctx context.Context) CheckResult

// HealthReport is the outcome of a full run. Its Status is the worst status
// of its checks.
type HealthReport struct {
	Status    Status                 `json:"status"`
	CheckedAt time.Time              `json:"checked_at"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Names returns the check names in order.
func (r HealthReport) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthChecks is the set of checks behind /readyz and `relay health`.
type HealthChecks struct {
	mu     sync.Mutex
	checks map[string]Check
}

// NewHealthChecks creates an empty set.
func NewHealthChecks() *HealthChecks {
	return &HealthChecks{checks: make(map[string]Check)}
}

// Add registers check under name, replacing any check of that name.
func (h *HealthChecks) Add(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Run executes all checks concurrently.
func (h *HealthChecks) Run(ctx context.Context) HealthReport {
	h.mu.Lock()
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	report := HealthReport{
		Status: StatusHealthy,
		Checks: make(map[string]CheckResult, len(checks)),
	}
	var mu sync.Mutex
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			start := time.Now()
			result := check(ctx)
			result.Duration = time.Since(start)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result.Status.worse(report.Status) {
				report.Status = result.Status
			}
			return nil
		})
	}
	_ = g.Wait()

	report.CheckedAt = time.Now()
	return report
}

// PingCheck reports failure when ping returns an error.
func PingCheck(ping func(ctx context.Context) error, failure Status) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: failure, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// CircuitCheck reports the stream's circuit breaker. An open circuit means
// submissions are being refused.
func CircuitCheck(state func() gobreaker.State) Check {
	return func(ctx context.Context) CheckResult {
		s := state()
		result := CheckResult{Status: StatusHealthy, Message: "circuit " + s.String()}
		switch s {
		case gobreaker.StateHalfOpen:
			result.Status = StatusDegraded
		case gobreaker.StateOpen:
			result.Status = StatusUnhealthy
		}
		return result
	}
}

// OutboxLagCheck degrades when the oldest pending outbox message is older
// than maxLag. A zero maxLag disables the check.
func OutboxLagCheck(lagSeconds func() float64, maxLag time.Duration) Check {
	return func(ctx context.Context) CheckResult {
		lag := time.Duration(lagSeconds() * float64(time.Second)).Round(time.Second)
		if maxLag > 0 && lag > maxLag {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("outbox lag %s exceeds %s", lag, maxLag),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("outbox lag %s", lag)}
	}
}
