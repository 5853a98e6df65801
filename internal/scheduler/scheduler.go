// Package scheduler runs periodic maintenance jobs on cron schedules:
// dependency probes that feed the readiness gauges and the tool cache sweep.
// Jobs never overlap with themselves; a run still in progress when its next
// slot arrives causes that slot to be skipped.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single job run.
const DefaultJobTimeout = 30 * time.Second

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string // Standard 5-field cron expression or a descriptor such as "@every 1m".
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns a cron runner and the jobs registered on it.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	metrics *Metrics
	logger  *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// New creates a Scheduler. metrics may be nil.
func New(metrics *Metrics, logger *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  parser,
		metrics: metrics,
		logger:  logger,
		ctx:     context.Background(),
		jobs:    make(map[string]cron.EntryID),
	}
}

// Add registers a job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	if _, err := s.parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	id, err := s.cron.AddFunc(job.Schedule, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("scheduling job %q: %w", job.Name, err)
	}
	s.jobs[job.Name] = id
	return nil
}

// Start begins running jobs on their schedules and runs every job once
// immediately so gauges are populated at startup. The returned function
// stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.mu.Lock()
	s.ctx = ctx
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "maintenance scheduler started", slog.Any("jobs", names))
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		go e.WrappedJob.Run()
	}

	return func() {
		<-s.cron.Stop().Done()
		s.logger.Info("maintenance scheduler stopped")
	}
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	s.cron.Entry(id).WrappedJob.Run()
	return nil
}

// Next returns the next scheduled run of the named job, or the zero time when
// the scheduler is not running.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent.Err() != nil {
		return
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	runID := newCorrelationID()
	start := time.Now()
	if s.metrics != nil {
		s.metrics.JobsFired.WithLabelValues(job.Name).Inc()
	}

	err := job.Run(ctx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.JobDuration.WithLabelValues(job.Name).Observe(duration.Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.JobsFailed.WithLabelValues(job.Name).Inc()
		}
		s.logger.ErrorContext(ctx, "maintenance job failed",
			slog.String("job", job.Name),
			slog.String("run_id", runID),
			slog.String("error", err.Error()),
		)
		return
	}
	if s.metrics != nil {
		s.metrics.JobsSucceeded.WithLabelValues(job.Name).Inc()
	}
	s.logger.DebugContext(ctx, "maintenance job completed",
		slog.String("job", job.Name),
		slog.String("run_id", runID),
		slog.Duration("duration", duration),
	)
}

// NextRunFrom computes the next run time of expr after from.
func NextRunFrom(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
