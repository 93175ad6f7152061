// Package worker hosts the scheduled background passes: the expiry
// reclaimer and the invariant checker. Each exposes a parameterless
// RunOnce for external schedulers and a Run loop for in-process ticking.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runLoop drives fn on a fixed interval. Consecutive failures widen the
// interval with a capped exponential backoff so a broken dependency is
// not hammered.
func runLoop(ctx context.Context, logger *zap.SugaredLogger, name string, interval time.Duration, fn func(ctx context.Context) error) {
	tick := interval
	for {
		select {
		case <-ctx.Done():
			logger.Infow("worker stopped", "worker", name)
			return
		case <-time.After(tick):
		}

		if err := fn(ctx); err != nil {
			tick = backoff(tick, interval)
			logger.Errorw("worker pass failed", "worker", name, "err", err, "next_tick", tick)
			continue
		}
		tick = interval
	}
}

func backoff(tick, base time.Duration) time.Duration {
	tick <<= 1
	if max := base << 3; tick > max {
		return max
	}
	return tick
}
