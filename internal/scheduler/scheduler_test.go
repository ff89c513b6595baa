package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/buildmart/internal/config"
)

type counters struct {
	expired, overdue, snapshots, summaries, cleanups int
	idle                                             time.Duration
	err                                              error
}

func (c *counters) ExpireOffers(context.Context) (int, error) {
	c.expired++
	return 2, c.err
}

func (c *counters) MarkOverdueInvoices(context.Context) (int, error) {
	c.overdue++
	return 1, c.err
}

func (c *counters) SaveDailySnapshot(context.Context) error {
	c.snapshots++
	return c.err
}

func (c *counters) SendWeeklySummary(context.Context) error {
	c.summaries++
	return c.err
}

func (c *counters) Cleanup(idle time.Duration) int {
	c.cleanups++
	c.idle = idle
	return 3
}

func testConfig() config.Config {
	return config.Config{
		Rotation:  config.RotationConfig{SweepSchedule: "@every 30s"},
		Reporting: config.ReportingConfig{DailyCron: "5 0 * * *", WeeklyCron: "0 20 * * 5"},
	}
}

func newTestScheduler(cfg config.Config, c *counters) *Scheduler {
	return NewScheduler(cfg, Jobs{Rotation: c, Invoices: c, Reports: c, Limiter: c}, time.UTC, nil)
}

func TestStartRegistersJobs(t *testing.T) {
	s := newTestScheduler(testConfig(), &counters{})
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Len(t, s.cron.Entries(), 5)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Reporting.WeeklyCron = "every friday"

	err := newTestScheduler(cfg, &counters{}).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekly summary")
}

func TestJobsCallServices(t *testing.T) {
	c := &counters{}
	s := newTestScheduler(testConfig(), c)

	s.expireOffers()
	s.markOverdue()
	s.saveDailySnapshot()
	s.sendWeeklySummary()
	s.cleanupLimiters()

	assert.Equal(t, 1, c.expired)
	assert.Equal(t, 1, c.overdue)
	assert.Equal(t, 1, c.snapshots)
	assert.Equal(t, 1, c.summaries)
	assert.Equal(t, 1, c.cleanups)
	assert.Equal(t, limiterIdle, c.idle)
}

func TestJobErrorsDoNotPanic(t *testing.T) {
	c := &counters{err: errors.New("mongo unavailable")}
	s := newTestScheduler(testConfig(), c)

	assert.NotPanics(t, func() {
		s.expireOffers()
		s.markOverdue()
		s.saveDailySnapshot()
		s.sendWeeklySummary()
	})
}
