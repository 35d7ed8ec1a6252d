// Package scheduler runs the periodic ledger jobs: the consistency cycle and
// the daily money-age snapshot.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/roach88/moneyage/internal/consistency"
	"github.com/roach88/moneyage/internal/ledger"
)

// Ledger is the part of consistency.Manager the jobs drive.
type Ledger interface {
	Advance(ctx context.Context) (*consistency.RebuildReport, error)
	Snapshot(ctx context.Context) (ledger.MoneyAgeSnapshot, error)
}

// Scheduler owns the cron runner and its two jobs.
type Scheduler struct {
	cron   *cron.Cron
	ledger Ledger
	logger *slog.Logger
	ctx    context.Context
}

// New creates a Scheduler. Cron expressions take a leading seconds field.
// Overlapping runs of the same job are skipped.
func New(ctx context.Context, l Ledger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ledger: l,
		logger: logger,
		ctx:    ctx,
	}
}

// Register adds the advance and snapshot jobs.
func (s *Scheduler) Register(advanceCron, snapshotCron string) error {
	if _, err := s.cron.AddFunc(advanceCron, s.RunAdvance); err != nil {
		return fmt.Errorf("register advance task: %w", err)
	}
	if _, err := s.cron.AddFunc(snapshotCron, s.RunSnapshot); err != nil {
		return fmt.Errorf("register snapshot task: %w", err)
	}
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Jobs())
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunAdvance runs one consistency cycle now.
func (s *Scheduler) RunAdvance() {
	report, err := s.ledger.Advance(s.ctx)
	if err != nil {
		s.logger.Error("advance failed", "error", err)
		return
	}
	if report != nil {
		s.logger.Info("advance rebuilt ledger", "reason", report.Reason, "transactions", report.Transactions)
		return
	}
	s.logger.Debug("advance completed")
}

// RunSnapshot persists today's snapshot now.
func (s *Scheduler) RunSnapshot() {
	snap, err := s.ledger.Snapshot(s.ctx)
	if err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return
	}
	s.logger.Info("snapshot saved", "date", ledger.FormatTime(snap.Date), "money_age_days", snap.MoneyAgeDays)
}

// cronLogger adapts slog to cron.Logger. Cron's per-tick chatter goes to debug.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
