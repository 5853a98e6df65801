package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/ratelimit"
)

const (
	JobProbeDependencies = "probe_dependencies"
	JobSweepToolCache    = "sweep_tool_cache"
	JobPruneRateLimiter  = "prune_rate_limiter"
)

// Probe checks one external dependency.
type Probe func(ctx context.Context) error

// ProbeJob returns a job that runs every probe and publishes the outcome as
// the dependency_up gauge. The job fails when any probe fails.
func ProbeJob(schedule string, probes map[string]Probe, metrics *observability.MetricsCollector, logger *slog.Logger) Job {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return Job{
		Name:     JobProbeDependencies,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			var errs []error
			for _, name := range names {
				up := 1.0
				if err := probes[name](ctx); err != nil {
					up = 0
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					logger.WarnContext(ctx, "dependency probe failed",
						slog.String("dependency", name),
						slog.String("error", err.Error()),
					)
				}
				if metrics != nil {
					metrics.DependencyUp.WithLabelValues(name).Set(up)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// CacheSweepJob returns a job that evicts expired tool cache entries and
// publishes the remaining count.
func CacheSweepJob(schedule string, cache *agent.ToolCache, metrics *observability.MetricsCollector, logger *slog.Logger) Job {
	return Job{
		Name:     JobSweepToolCache,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			if cache == nil {
				return nil
			}
			evicted := cache.Sweep()
			remaining := cache.Len()
			if metrics != nil {
				metrics.ToolCacheEntries.Set(float64(remaining))
			}
			if evicted > 0 {
				logger.DebugContext(ctx, "tool cache swept",
					slog.Int("evicted", evicted),
					slog.Int("remaining", remaining),
				)
			}
			return nil
		},
	}
}

// RateLimitPruneJob returns a job that forgets idle rate limiter clients.
func RateLimitPruneJob(schedule string, limiter *ratelimit.Limiter, logger *slog.Logger) Job {
	return Job{
		Name:     JobPruneRateLimiter,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			if n := limiter.Prune(); n > 0 {
				logger.DebugContext(ctx, "rate limiter pruned",
					slog.Int("removed", n),
					slog.Int("tracked", limiter.Len()),
				)
			}
			return nil
		},
	}
}
