// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"counseling-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is one unit of background work. Errors are logged by the scheduler.
type Task func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// New creates a scheduler. A run that is still in progress when its next
// tick fires causes that tick to be skipped.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = util.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))
	return &Scheduler{cron: c, ctx: ctx, cancel: cancel, logger: logger}
}

// Register adds task under name. spec accepts standard five-field cron
// expressions and descriptors such as "@hourly" or "@every 30m".
func (s *Scheduler) Register(name, spec string, task Task) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runOnce(name, task)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.logger.Info("Scheduled job", zap.String("job", name), zap.String("schedule", spec))
	return nil
}

func (s *Scheduler) runOnce(name string, task Task) {
	start := time.Now()
	if err := task(s.ctx); err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled job finished",
		zap.String("job", name),
		zap.Duration("took", time.Since(start)))
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx expires
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
