package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/logger"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/common"
	"github.com/oshokin/distroget/internal/service/updater"
)

// runFunc performs one update run started by trigger.
type runFunc func(ctx context.Context, trigger string) (*release.Report, error)

// service schedules update runs and publishes their progress through the monitor.
type service struct {
	// monitor is shared with the status transports.
	monitor *updater.Monitor
	// run performs a single update run.
	run runFunc
	// interval separates two scheduled runs.
	interval time.Duration
	// trigger holds at most one pending manual run request.
	trigger chan struct{}
}

// newService creates the scheduler and seeds the monitor with the last
// persisted report, if any.
func newService(
	ctx context.Context,
	repository report.Repository,
	monitor *updater.Monitor,
	run runFunc,
	interval time.Duration,
) (*service, error) {
	s := &service{
		monitor:  monitor,
		run:      run,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}

	if repository == nil {
		return s, nil
	}

	last, err := repository.Load(ctx)
	switch {
	case err == nil:
		monitor.SetLastReport(last)
	case errors.Is(err, report.ErrNotFound):
		// Nothing ran yet.
	default:
		return nil, fmt.Errorf("load last report: %w", err)
	}

	return s, nil
}

// Trigger requests an immediate run. It returns false if one is already pending.
func (s *service) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// loop runs the updater every interval until ctx is done. Runs never overlap.
func (s *service) loop(ctx context.Context, runOnStart bool) error {
	ctx = logger.WithName(ctx, "scheduler")

	if runOnStart {
		s.runOnce(ctx, common.TriggerStartup)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.InfoKV(ctx, "Scheduler started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Scheduler stopped")

			return nil
		case <-ticker.C:
			s.runOnce(ctx, common.TriggerSchedule)
		case <-s.trigger:
			s.runOnce(ctx, common.TriggerManual)
		}
	}
}

// runOnce performs a run and logs its outcome. Failures never stop the loop.
func (s *service) runOnce(ctx context.Context, trigger string) {
	ctx = logger.WithKV(ctx, "trigger", trigger)

	logger.Info(ctx, "Starting update run")

	result, err := s.run(ctx, trigger)

	switch {
	case errors.Is(err, updater.ErrAutoUpdateDisabled):
		logger.Info(ctx, "Auto-update is disabled, waiting for the next run")
	case errors.Is(err, updater.ErrAlreadyRunning):
		logger.Warn(ctx, "Another update run holds the marker, skipping")
	case err != nil:
		logger.ErrorKV(ctx, "Update run failed", "error", err)
	default:
		logger.InfoKV(ctx, "Update run completed", "summary", updater.Describe(result))
	}
}
