package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mja00/twitch-eventsub-rest/internal/analytics"
)

type fakeSweeper struct {
	cleanups   chan time.Duration
	backfills  chan struct{}
	report     analytics.CleanupReport
	cleanupErr error
	backfilled int
}

func newFakeSweeper() *fakeSweeper {
	return &fakeSweeper{
		cleanups:  make(chan time.Duration, 1),
		backfills: make(chan struct{}, 1),
	}
}

func (f *fakeSweeper) CleanupStaleSessions(ctx context.Context, maxAge time.Duration) (analytics.CleanupReport, error) {
	select {
	case f.cleanups <- maxAge:
	default:
	}
	return f.report, f.cleanupErr
}

func (f *fakeSweeper) BackfillStatlessActives(ctx context.Context) (int, error) {
	select {
	case f.backfills <- struct{}{}:
	default:
	}
	return f.backfilled, nil
}

type fakeSweepObserver struct {
	counts chan int
}

func newFakeSweepObserver() *fakeSweepObserver {
	return &fakeSweepObserver{counts: make(chan int, 1)}
}

func (f *fakeSweepObserver) ObserveSweepDeletions(mode string, count int) {
	select {
	case f.counts <- count:
	default:
	}
}

func TestStartSessionSweepWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	sweeper := newFakeSweeper()
	sweeper.report = analytics.CleanupReport{DeletedCount: 3, MaxAgeHours: 2}
	observer := newFakeSweepObserver()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startSessionSweepWorkerWithTicker(ctx, logger, sweeper, observer, time.Minute, 2*time.Hour, func(time.Duration) workerTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case maxAge := <-sweeper.cleanups:
		if maxAge != 2*time.Hour {
			t.Fatalf("expected max age 2h, got %s", maxAge)
		}
	case <-time.After(time.Second):
		t.Fatal("expected cleanup to be invoked")
	}
	select {
	case count := <-observer.counts:
		if count != 3 {
			t.Fatalf("expected 3 deletions observed, got %d", count)
		}
	case <-time.After(time.Second):
		t.Fatal("expected sweep deletions to be observed")
	}
	select {
	case <-sweeper.backfills:
	case <-time.After(time.Second):
		t.Fatal("expected backfill to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestSweepOnceSkipsObserverOnCleanupError(t *testing.T) {
	sweeper := newFakeSweeper()
	sweeper.cleanupErr = errors.New("store offline")
	observer := newFakeSweepObserver()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sweepOnce(context.Background(), logger, sweeper, observer, time.Hour)

	select {
	case count := <-observer.counts:
		t.Fatalf("expected no observation after cleanup error, got %d", count)
	default:
	}
	select {
	case <-sweeper.backfills:
	default:
		t.Fatal("expected backfill to run even when cleanup fails")
	}
}

func TestStartSessionSweepWorkerDisabledWithoutMaxAge(t *testing.T) {
	factoryCalled := false
	stop := startSessionSweepWorkerWithTicker(context.Background(), nil, newFakeSweeper(), nil, time.Minute, 0, func(time.Duration) workerTicker {
		factoryCalled = true
		return newManualTicker()
	})
	stop()

	if factoryCalled {
		t.Fatal("expected no ticker when max age is zero")
	}
}
