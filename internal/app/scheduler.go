package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepFunc runs one sweep batch.
type SweepFunc func(ctx context.Context)

// Scheduler triggers the sweeper on a cron schedule. A run that is still in
// progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	sweep    SweepFunc
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(schedule string, sweep SweepFunc, logger *zap.Logger) (*Scheduler, error) {
	if sweep == nil {
		return nil, fmt.Errorf("sweep func is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := zapCronLogger{logger: logger.Named("cron")}
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))

	return &Scheduler{cron: c, schedule: schedule, sweep: sweep, logger: logger}, nil
}

// Start registers the sweep job and starts the cron loop. ctx bounds every
// sweep run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if _, err := s.cron.AddFunc(s.schedule, func() { s.sweep(s.ctx) }); err != nil {
		s.cancel()
		return fmt.Errorf("failed to schedule sweep job %q: %w", s.schedule, err)
	}
	s.logger.Info("scheduled sweep job", zap.String("schedule", s.schedule))

	s.cron.Start()
	return nil
}

// Stop cancels running sweeps and returns a context that is done once they
// have returned.
func (s *Scheduler) Stop() context.Context {
	if s.cancel != nil {
		s.cancel()
	}
	return s.cron.Stop()
}

type zapCronLogger struct {
	logger *zap.Logger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().With(zap.Error(err)).Errorw(msg, keysAndValues...)
}
