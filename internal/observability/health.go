package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const healthCheckTimeout = 3 * time.Second

// Dependency names an external system a chat turn relies on.
type Dependency string

const (
	DependencyStore   Dependency = "store"
	DependencyLLM     Dependency = "llm"
	DependencyYouTube Dependency = "youtube"
)

// Critical reports whether chat turns cannot run at all without d. The store
// holds every conversation, so losing it makes the service unavailable; the
// other dependencies only degrade it.
func (d Dependency) Critical() bool { return d == DependencyStore }

// Readiness states reported by CheckReady.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
	StatusFail        = "fail"
)

// HealthChecker probes the store, LLM and YouTube dependencies. Checks only
// read remote state; conversation data is never touched.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []HealthCheck
	metrics *MetricsCollector
	logger  *slog.Logger
}

// HealthCheck is a dependency probe.
type HealthCheck struct {
	Dependency Dependency
	Check      func(ctx context.Context) error
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // ok, degraded or unavailable
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency probe.
type CheckResult struct {
	Status    string `json:"status"` // ok or fail
	Critical  bool   `json:"critical,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Message   string `json:"message,omitempty"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// WithMetrics publishes every readiness result as the dependency_up gauge.
func (h *HealthChecker) WithMetrics(m *MetricsCollector) *HealthChecker {
	h.metrics = m
	return h
}

// AddCheck registers the probe for a dependency, replacing any earlier one.
func (h *HealthChecker) AddCheck(dep Dependency, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.checks {
		if h.checks[i].Dependency == dep {
			h.checks[i].Check = check
			return
		}
	}
	h.checks = append(h.checks, HealthCheck{Dependency: dep, Check: check})
}

// Dependencies returns the registered dependency names in registration order.
func (h *HealthChecker) Dependencies() []Dependency {
	h.mu.RLock()
	defer h.mu.RUnlock()
	deps := make([]Dependency, len(h.checks))
	for i, c := range h.checks {
		deps[i] = c.Dependency
	}
	return deps
}

// CheckHealth returns liveness status. Always returns "ok" if the process is running.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: StatusOK}
}

// CheckReady probes every dependency concurrently. The aggregate is
// "unavailable" when a critical dependency fails, "degraded" when any other
// fails and "ok" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	if len(checks) == 0 {
		return HealthStatus{Status: StatusOK}
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = h.run(checkCtx, c)
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status: StatusOK,
		Checks: make(map[string]CheckResult, len(checks)),
	}
	for i, c := range checks {
		r := results[i]
		status.Checks[string(c.Dependency)] = r
		if r.Status == StatusOK {
			continue
		}
		if r.Critical {
			status.Status = StatusUnavailable
		} else if status.Status == StatusOK {
			status.Status = StatusDegraded
		}
	}
	return status
}

func (h *HealthChecker) run(ctx context.Context, c HealthCheck) CheckResult {
	start := time.Now()
	err := c.Check(ctx)
	r := CheckResult{
		Status:    StatusOK,
		Critical:  c.Dependency.Critical(),
		LatencyMS: time.Since(start).Milliseconds(),
	}

	up := 1.0
	if err != nil {
		up = 0
		r.Status = StatusFail
		r.Message = err.Error()
		if h.logger != nil {
			h.logger.WarnContext(ctx, "readiness check failed",
				slog.String("dependency", string(c.Dependency)),
				slog.Bool("critical", r.Critical),
				slog.String("error", err.Error()),
			)
		}
	}
	if h.metrics != nil {
		h.metrics.DependencyUp.WithLabelValues(string(c.Dependency)).Set(up)
	}
	return r
}
