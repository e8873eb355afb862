package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Task func(ctx context.Context) error

// Every runs task immediately and then on each interval until ctx is done.
// Runs never overlap: a run that outlasts the interval delays the next one.
func Every(ctx context.Context, log *zap.Logger, interval time.Duration, name string, task Task) {
	if log == nil {
		log = zap.NewNop()
	}
	run := func() {
		start := time.Now()
		if err := task(ctx); err != nil {
			log.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
			return
		}
		log.Debug("scheduled task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}
