package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type stalePurger interface {
	SweepStale(dir string, minAge time.Duration) int
}

type expiryPurger interface {
	PurgeExpired() int
}

type historyPruner interface {
	PruneOlderThan(cutoff time.Time) (int, error)
}

// sweepWorkerConfig wires the periodic background maintenance: orphaned temp
// files in the output directory, expired cache entries, and old history
// records.
type sweepWorkerConfig struct {
	Dir       string
	MinAge    time.Duration
	Retention time.Duration
	Sweeper   stalePurger
	Cache     expiryPurger
	History   historyPruner
}

type sweepTicker interface {
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

type tickerFactory func(time.Duration) sweepTicker

func startSweepWorker(ctx context.Context, logger *slog.Logger, cfg sweepWorkerConfig, interval time.Duration) func() {
	return startSweepWorkerWithTicker(ctx, logger, cfg, interval, func(d time.Duration) sweepTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startSweepWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	cfg sweepWorkerConfig,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if cfg.Sweeper == nil || interval <= 0 {
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
				runSweepPass(logger, cfg)
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

func runSweepPass(logger *slog.Logger, cfg sweepWorkerConfig) {
	if removed := cfg.Sweeper.SweepStale(cfg.Dir, cfg.MinAge); removed > 0 && logger != nil {
		logger.Info("removed orphaned download artifacts", "count", removed)
	}
	if cfg.Cache != nil {
		if purged := cfg.Cache.PurgeExpired(); purged > 0 && logger != nil {
			logger.Debug("purged expired cache entries", "count", purged)
		}
	}
	if cfg.History != nil && cfg.Retention > 0 {
		cutoff := time.Now().Add(-cfg.Retention)
		pruned, err := cfg.History.PruneOlderThan(cutoff)
		if err != nil && logger != nil {
			logger.Error("failed to prune download history", "error", err)
		} else if pruned > 0 && logger != nil {
			logger.Info("pruned old download history records", "count", pruned)
		}
	}
}
