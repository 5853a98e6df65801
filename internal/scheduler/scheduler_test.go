package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/tubechat/internal/agent"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/ratelimit"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// value reads a single counter or gauge.
func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var pb dto.Metric
	if err := m.Write(&pb); err != nil {
		t.Fatalf("reading metric: %v", err)
	}
	if pb.Counter != nil {
		return pb.Counter.GetValue()
	}
	return pb.Gauge.GetValue()
}

// --- Scheduler ---

func TestAdd_Validation(t *testing.T) {
	s := New(nil, discardLogger())
	noop := func(context.Context) error { return nil }

	if err := s.Add(Job{Name: "a", Schedule: "not a schedule", Run: noop}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := s.Add(Job{Name: "a", Schedule: "@every 1m"}); err == nil {
		t.Error("expected error for missing run function")
	}
	if err := s.Add(Job{Name: "a", Schedule: "*/5 * * * *", Run: noop}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Job{Name: "a", Schedule: "@every 1m", Run: noop}); err == nil {
		t.Error("expected error for duplicate job name")
	}
}

func TestRunNow_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	s := New(metrics, discardLogger())

	var runs atomic.Int32
	if err := s.Add(Job{Name: "ok", Schedule: "@hourly", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(Job{Name: "bad", Schedule: "@hourly", Run: func(context.Context) error {
		return errors.New("boom")
	}}); err != nil {
		t.Fatal(err)
	}

	if err := s.RunNow("ok"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow("bad"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if got := value(t, metrics.JobsSucceeded.WithLabelValues("ok")); got != 1 {
		t.Errorf("succeeded(ok) = %v, want 1", got)
	}
	if got := value(t, metrics.JobsFailed.WithLabelValues("bad")); got != 1 {
		t.Errorf("failed(bad) = %v, want 1", got)
	}
	if got := value(t, metrics.JobsFired.WithLabelValues("bad")); got != 1 {
		t.Errorf("fired(bad) = %v, want 1", got)
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	s := New(nil, discardLogger())
	ran := make(chan struct{}, 1)
	if err := s.Add(Job{Name: "once", Schedule: "@daily", Run: func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	stop := s.Start(context.Background())
	defer stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run at startup")
	}
	if s.Next("once").IsZero() {
		t.Error("expected a next run time once started")
	}
}

func TestJobTimeout(t *testing.T) {
	s := New(nil, discardLogger())
	var deadline atomic.Bool
	if err := s.Add(Job{Name: "slow", Schedule: "@hourly", Timeout: 10 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}
	if !deadline.Load() {
		t.Error("expected the job context to hit its deadline")
	}
}

func TestNextRunFrom(t *testing.T) {
	from := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	next, err := NextRunFrom("*/15 * * * *", from)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if _, err := NextRunFrom("bogus", from); err == nil {
		t.Error("expected error for invalid expression")
	}
}

// --- Jobs ---

func TestProbeJob_SetsGauges(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	job := ProbeJob("@every 1m", map[string]Probe{
		"store":   func(context.Context) error { return nil },
		"youtube": func(context.Context) error { return errors.New("quota exceeded") },
	}, metrics, discardLogger())

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed probe to surface")
	}
	if got := value(t, metrics.DependencyUp.WithLabelValues("store")); got != 1 {
		t.Errorf("store up = %v, want 1", got)
	}
	if got := value(t, metrics.DependencyUp.WithLabelValues("youtube")); got != 0 {
		t.Errorf("youtube up = %v, want 0", got)
	}
}

func TestCacheSweepJob(t *testing.T) {
	metrics := observability.NewMetricsCollector()
	cache := agent.NewToolCache(time.Millisecond)
	cache.Set("ws", "get_transcript", map[string]any{"id": 1}, "text")

	time.Sleep(5 * time.Millisecond)
	job := CacheSweepJob("@every 5m", cache, metrics, discardLogger())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := cache.Get("ws", "get_transcript", map[string]any{"id": 1}); ok {
		t.Error("expired entry should be gone")
	}
	if cache.Len() != 0 {
		t.Errorf("cache holds %d entries, want 0", cache.Len())
	}
	if got := value(t, metrics.ToolCacheEntries); got != 0 {
		t.Errorf("gauge = %v, want 0", got)
	}

	nilJob := CacheSweepJob("@every 5m", nil, nil, discardLogger())
	if err := nilJob.Run(context.Background()); err != nil {
		t.Errorf("nil cache: %v", err)
	}
}

func TestRateLimitPruneJob(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 60})
	_ = limiter.Allow("client")
	job := RateLimitPruneJob("@every 10m", limiter, discardLogger())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if limiter.Len() != 1 {
		t.Errorf("a fresh client should be kept, Len = %d", limiter.Len())
	}

	var unlimited *ratelimit.Limiter
	if err := RateLimitPruneJob("@every 10m", unlimited, discardLogger()).Run(context.Background()); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}
