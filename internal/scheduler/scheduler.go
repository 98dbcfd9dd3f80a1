package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// AccrualRunner performs one accrual sweep.
type AccrualRunner interface {
	RunScheduledAccrual(ctx context.Context) (int, error)
}

// Scheduler triggers accrual sweeps on a cron schedule. Overlapping runs are
// skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	runner   AccrualRunner
	logger   *slog.Logger
	schedule string
	timeout  time.Duration
}

// New builds a scheduler. timeout bounds a single sweep; zero means none.
func New(runner AccrualRunner, schedule string, timeout time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{
		cron:     c,
		runner:   runner,
		logger:   logger,
		schedule: schedule,
		timeout:  timeout,
	}
}

// Start registers the accrual job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunAccrual); err != nil {
		s.logger.Error("failed to schedule accrual job", "schedule", s.schedule, "error", err)
		return err
	}
	s.logger.Info("scheduled accrual job", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop halts the cron loop. The returned context is done once any running
// sweep has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunAccrual is the job body.
func (s *Scheduler) RunAccrual() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	started := time.Now()
	credited, err := s.runner.RunScheduledAccrual(ctx)
	if err != nil {
		s.logger.Error("scheduled accrual finished with errors", "credited", credited, "duration", time.Since(started), "error", err)
		return
	}
	s.logger.Info("scheduled accrual finished", "credited", credited, "duration", time.Since(started))
}
