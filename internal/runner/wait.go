package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WaitUntil blocks until the wall clock reaches target, logging the
// remaining time once a minute and then once a second inside the last
// minute. A target already in the past returns immediately.
func WaitUntil(ctx context.Context, target time.Time, log *zap.Logger) error {
	return waitUntil(ctx, target, log, time.Now, sleepCtx)
}

func waitUntil(
	ctx context.Context,
	target time.Time,
	log *zap.Logger,
	now func() time.Time,
	sleep func(ctx context.Context, d time.Duration) error,
) error {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		remaining := target.Sub(now())
		if remaining <= 0 {
			log.Info("release time reached", zap.Time("target", target))
			return nil
		}

		step := time.Minute
		if remaining < time.Minute {
			step = time.Second
		}
		if step > remaining {
			step = remaining
		}
		log.Info("waiting for release time",
			zap.Time("target", target),
			zap.Duration("remaining", remaining))
		if err := sleep(ctx, step); err != nil {
			return err
		}
	}
}
