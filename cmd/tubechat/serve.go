package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/tubechat/internal/config"
	"github.com/jkaninda/tubechat/internal/gateway"
	"github.com/jkaninda/tubechat/internal/gateway/httpapi"
	"github.com/jkaninda/tubechat/internal/gateway/ws"
	"github.com/jkaninda/tubechat/internal/observability"
	"github.com/jkaninda/tubechat/internal/ratelimit"
	"github.com/jkaninda/tubechat/internal/scheduler"
)

const (
	shutdownGracePeriod = 15 * time.Second
	rateLimitPruneEvery = "@every 10m"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and WebSocket chat server",
	RunE:  runServe,
}

func init() {
	// Register on both root and serve so that `tubechat --addr :9090` and
	// `tubechat serve --addr :9090` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveAddr, "addr", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts TubeChat in server mode.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateways.HTTP.ListenAddr = serveAddr
	}

	logger.Info("starting in serve mode",
		slog.String("version", version),
		slog.String("addr", cfg.Gateways.HTTP.Addr()),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg := cfg.Gateways.HTTP
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: httpCfg.RateLimit.RequestsPerMinute,
		BurstSize:         httpCfg.RateLimit.BurstSize,
	})

	gwCfg := httpapi.Config{
		ListenAddr:     httpCfg.Addr(),
		EnableDocs:     httpCfg.EnableDocs,
		APIKeys:        httpCfg.APIKeys,
		MaxRequestSize: httpCfg.MaxRequestSizeBytes,
		SSEEnabled:     httpCfg.SSE,
	}
	var tracer trace.Tracer
	if ts := sc.Obs.TracerOrNil(); ts != nil {
		tracer = ts.Tracer()
	}
	if sc.Obs != nil {
		gwCfg.HealthChecker = sc.Obs.Health
		gwCfg.Tracer = tracer
		if sc.Obs.Metrics != nil {
			gwCfg.Metrics = sc.Obs.Metrics
			gwCfg.MetricsRegistry = sc.Obs.Metrics.Registry
			if cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.MetricsPath()
			}
		}
	}
	api := httpapi.NewGateway(gwCfg, sc.Service, limiter, logger)

	// WebSocket chat endpoint (optional), mounted on the same listener.
	if wsCfg := cfg.Gateways.WebSocket; wsCfg != nil && wsCfg.Enabled {
		wsServer := ws.NewServer(sc.Service, wsCfg, logger).
			WithAPIKeys(httpCfg.APIKeys).
			WithRateLimiter(limiter)
		var handler http.Handler = wsServer.Handler()
		if gwCfg.Metrics != nil || tracer != nil {
			handler = observability.HTTPMetricsMiddleware(gwCfg.Metrics, tracer, handler)
		}
		api.WithHandler(wsCfg.WSPath(), handler)
		logger.Debug("websocket chat endpoint initialized", slog.String("path", wsCfg.WSPath()))
	}

	// Maintenance jobs (optional).
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		cancelScheduler, err := startScheduler(ctx, cfg.Scheduler, sc, limiter)
		if err != nil {
			return err
		}
		defer cancelScheduler()
	}

	return runGateways(ctx, logger, api)
}

// startScheduler registers the maintenance jobs and starts the cron runner.
func startScheduler(ctx context.Context, cfg *config.SchedulerConfig, sc *SharedComponents, limiter *ratelimit.Limiter) (func(), error) {
	var schedMetrics *scheduler.Metrics
	var collector *observability.MetricsCollector
	if sc.Obs != nil && sc.Obs.Metrics != nil {
		collector = sc.Obs.Metrics
		schedMetrics = scheduler.NewMetrics(collector.Registry)
	}

	probes := make(map[string]scheduler.Probe, len(sc.Probes))
	for dep, probe := range sc.Probes {
		probes[string(dep)] = probe
	}

	sched := scheduler.New(schedMetrics, sc.Logger)
	jobs := []scheduler.Job{
		scheduler.ProbeJob(cfg.Probe(), probes, collector, sc.Logger),
	}
	if cache := sc.Service.ToolCache(); cache != nil {
		jobs = append(jobs, scheduler.CacheSweepJob(cfg.CacheSweep(), cache, collector, sc.Logger))
	}
	if !limiter.Unlimited() {
		jobs = append(jobs, scheduler.RateLimitPruneJob(rateLimitPruneEvery, limiter, sc.Logger))
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("registering job %s: %w", job.Name, err)
		}
	}

	cancel := sched.Start(ctx)
	sc.Logger.Debug("maintenance scheduler started",
		slog.Int("jobs", len(jobs)),
		slog.String("probe_schedule", cfg.Probe()),
	)
	return cancel, nil
}

// runGateways starts every gateway and blocks until ctx is canceled or one of
// them fails, then stops them all within the grace period.
func runGateways(ctx context.Context, logger *slog.Logger, gateways ...gateway.Gateway) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, gw := range gateways {
		g.Go(func() error {
			if err := gw.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("gateway failed", slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		for _, gw := range gateways {
			if err := gw.Stop(shutdownCtx); err != nil {
				logger.Error("gateway shutdown failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	err := g.Wait()
	logger.Info("stopped")
	return err
}
