package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type credentialPurger interface {
	PurgeExpiredCredentials(ctx context.Context, cutoff time.Time) (int, error)
}

type purgeTicker interface {
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

type tickerFactory func(time.Duration) purgeTicker

// startCredentialPurgeWorker periodically deletes provider credentials that
// expired more than grace ago. The returned function stops the worker and
// waits for it to exit.
func startCredentialPurgeWorker(ctx context.Context, logger *slog.Logger, store credentialPurger, interval, grace time.Duration) func() {
	return startCredentialPurgeWorkerWithTicker(ctx, logger, store, interval, grace, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startCredentialPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store credentialPurger,
	interval, grace time.Duration,
	newTicker tickerFactory,
) func() {
	if store == nil || interval <= 0 {
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
				cutoff := time.Now().Add(-grace)
				purged, err := store.PurgeExpiredCredentials(workerCtx, cutoff)
				if err != nil {
					if logger != nil {
						logger.Error("failed to purge expired credentials", "error", err)
					}
					continue
				}
				if purged > 0 && logger != nil {
					logger.Info("purged expired credentials", "count", purged)
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
