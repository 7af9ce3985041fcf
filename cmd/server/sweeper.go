package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
)

type sessionSweeper interface {
	CleanupStaleSessions(ctx context.Context, maxAge time.Duration) (analytics.CleanupReport, error)
	BackfillStatlessActives(ctx context.Context) (int, error)
}

type sweepObserver interface {
	ObserveSweepDeletions(mode string, count int)
}

// startSessionSweepWorker force closes sessions that outlived maxAge and
// backfills stat snapshots for active sessions that have none. The returned
// stop function blocks until the worker has exited.
func startSessionSweepWorker(
	ctx context.Context,
	logger *slog.Logger,
	sweeper sessionSweeper,
	observer sweepObserver,
	interval time.Duration,
	maxAge time.Duration,
) func() {
	return startSessionSweepWorkerWithTicker(ctx, logger, sweeper, observer, interval, maxAge, newTimeTicker)
}

func startSessionSweepWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sweeper sessionSweeper,
	observer sweepObserver,
	interval time.Duration,
	maxAge time.Duration,
	newTicker tickerFactory,
) func() {
	if sweeper == nil || interval <= 0 || maxAge <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				sweepOnce(workerCtx, logger, sweeper, observer, maxAge)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func sweepOnce(ctx context.Context, logger *slog.Logger, sweeper sessionSweeper, observer sweepObserver, maxAge time.Duration) {
	report, err := sweeper.CleanupStaleSessions(ctx, maxAge)
	switch {
	case err != nil:
		if logger != nil {
			logger.Warn("session sweep failed", "error", err)
		}
	default:
		if observer != nil {
			observer.ObserveSweepDeletions("routine", report.DeletedCount)
		}
		if report.DeletedCount > 0 && logger != nil {
			logger.Info("closed stale sessions", "deleted", report.DeletedCount, "max_age_hours", report.MaxAgeHours)
		}
	}

	updated, err := sweeper.BackfillStatlessActives(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("snapshot backfill failed", "error", err)
		}
		return
	}
	if updated > 0 && logger != nil {
		logger.Info("backfilled session snapshots", "sessions", updated)
	}
}
