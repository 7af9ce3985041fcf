package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type statusSyncer interface {
	SyncOnce(ctx context.Context) error
}

type workerTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) workerTicker

func newTimeTicker(d time.Duration) workerTicker {
	return timeTicker{ticker: time.NewTicker(d)}
}

// startStatusPollWorker reconciles cached stream statuses against Helix on a
// fixed interval, covering webhook deliveries that never arrived. The
// returned stop function blocks until the worker has exited.
func startStatusPollWorker(ctx context.Context, logger *slog.Logger, syncer statusSyncer, interval time.Duration) func() {
	return startStatusPollWorkerWithTicker(ctx, logger, syncer, interval, newTimeTicker)
}

func startStatusPollWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	syncer statusSyncer,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if syncer == nil || interval <= 0 {
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
				if err := syncer.SyncOnce(workerCtx); err != nil && logger != nil {
					logger.Warn("status poll failed", "error", err)
				}
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
