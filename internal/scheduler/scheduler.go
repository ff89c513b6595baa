package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/buildmart/internal/config"
)

const (
	overdueSchedule = "15 * * * *"
	cleanupSchedule = "@every 10m"
	limiterIdle     = 10 * time.Minute
	jobTimeout      = 2 * time.Minute
)

// OfferExpirer moves timed-out provider offers along the rotation.
type OfferExpirer interface {
	ExpireOffers(ctx context.Context) (int, error)
}

// OverdueMarker flags invoices past their due date.
type OverdueMarker interface {
	MarkOverdueInvoices(ctx context.Context) (int, error)
}

// Reporter produces the periodic platform reports.
type Reporter interface {
	SaveDailySnapshot(ctx context.Context) error
	SendWeeklySummary(ctx context.Context) error
}

// LimiterCleaner evicts idle rate-limit buckets.
type LimiterCleaner interface {
	Cleanup(idle time.Duration) int
}

// Jobs are the services the scheduler drives.
type Jobs struct {
	Rotation OfferExpirer
	Invoices OverdueMarker
	Reports  Reporter
	Limiter  LimiterCleaner
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron   *cron.Cron
	jobs   Jobs
	cfg    config.Config
	logger *zap.Logger
}

// NewScheduler creates a new scheduler instance. Cron expressions are
// evaluated in loc.
func NewScheduler(cfg config.Config, jobs Jobs, loc *time.Location, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}

	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		cfg:    cfg,
		logger: logger,
	}
}

// Start registers every job and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	schedule := []struct {
		name string
		spec string
		fn   func()
	}{
		{"rotation sweep", s.cfg.Rotation.SweepSchedule, s.expireOffers},
		{"overdue invoices", overdueSchedule, s.markOverdue},
		{"daily snapshot", s.cfg.Reporting.DailyCron, s.saveDailySnapshot},
		{"weekly summary", s.cfg.Reporting.WeeklyCron, s.sendWeeklySummary},
		{"limiter cleanup", cleanupSchedule, s.cleanupLimiters},
	}
	for _, job := range schedule {
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("schedule %s %q: %w", job.name, job.spec, err)
		}
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) expireOffers() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.jobs.Rotation.ExpireOffers(ctx)
	if err != nil {
		s.logger.Error("failed to expire offers", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("expired provider offers", zap.Int("count", n))
	}
}

func (s *Scheduler) markOverdue() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.jobs.Invoices.MarkOverdueInvoices(ctx)
	if err != nil {
		s.logger.Error("failed to mark overdue invoices", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("invoices marked overdue", zap.Int("count", n))
	}
}

func (s *Scheduler) saveDailySnapshot() {
	s.logger.Info("saving daily snapshot")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.jobs.Reports.SaveDailySnapshot(ctx); err != nil {
		s.logger.Error("failed to save daily snapshot", zap.Error(err))
	}
}

func (s *Scheduler) sendWeeklySummary() {
	s.logger.Info("generating weekly report")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.jobs.Reports.SendWeeklySummary(ctx); err != nil {
		s.logger.Error("failed to send weekly report", zap.Error(err))
	} else {
		s.logger.Info("weekly report sent successfully")
	}
}

func (s *Scheduler) cleanupLimiters() {
	if n := s.jobs.Limiter.Cleanup(limiterIdle); n > 0 {
		s.logger.Debug("evicted idle rate limiters", zap.Int("count", n))
	}
}

// cronLogger routes cron's own messages into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
