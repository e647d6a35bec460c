// Package runner drives the fetch -> select -> submit booking cycle
// against a venue provider until it lands a slot or runs out of attempts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/retry"
)

// ErrNoSuccess is returned when the attempt budget ends without a booking.
var ErrNoSuccess = errors.New("no booking succeeded")

// Task is one independent booking goal: a query plus time preferences,
// run against its own provider (its own account session).
type Task struct {
	Name           string
	Provider       booking.Provider
	Query          booking.Query
	PreferredTimes []string
}

// Result reports what one task achieved.
type Result struct {
	Task     string
	Slot     booking.Slot
	Attempts int
}

type Runner struct {
	MaxAttempts int           // full fetch/select/submit cycles, default 50
	Pause       time.Duration // between cycles, default 1s
	Log         *zap.Logger

	rng   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func New(log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		MaxAttempts: 50,
		Pause:       time.Second,
		Log:         log,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:       sleepCtx,
	}
}

// Run keeps cycling fetch -> select -> submit until one booking succeeds.
// Empty availability, a selection miss and a rejected order all count as a
// failed cycle and wait out the pause. Fetch-level retries happen inside
// the provider; this loop is the coarser "slot may appear any second"
// poll.
func (r *Runner) Run(ctx context.Context, t Task) (Result, error) {
	if err := t.Query.Validate(); err != nil {
		return Result{}, err
	}

	runID := uuid.NewString()
	log := r.Log.With(
		zap.String("run_id", runID),
		zap.String("task", t.Name),
		zap.String("venue_no", t.Query.VenueNo),
		zap.String("period", t.Query.TimePeriod.String()),
	)

	// Probe the session before burning the attempt budget: expired
	// cookies fail every cycle the same way.
	if err := t.Provider.Ping(ctx, t.Query); err != nil {
		if retry.IsPermanent(err) {
			return Result{}, fmt.Errorf("session check: %w", err)
		}
		log.Warn("session check failed, continuing", zap.Error(err))
	}

	maxAttempts := r.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		log.Info("booking attempt", zap.Int("attempt", attempt), zap.Int("max_attempts", maxAttempts))

		slots, err := t.Provider.FetchAvailable(ctx, t.Query)
		if err != nil {
			log.Warn("availability fetch failed", zap.Int("attempt", attempt), zap.Error(err))
			if err := r.pause(ctx); err != nil {
				return Result{}, err
			}
			continue
		}
		if len(slots) == 0 {
			log.Info("no bookable slots yet", zap.Int("attempt", attempt))
			if err := r.pause(ctx); err != nil {
				return Result{}, err
			}
			continue
		}

		slot, ok := booking.SelectSlot(slots, t.PreferredTimes, r.rng)
		if !ok {
			if err := r.pause(ctx); err != nil {
				return Result{}, err
			}
			continue
		}
		log.Info("selected slot",
			zap.String("field", slot.FieldName),
			zap.String("begin", slot.BeginTime),
			zap.String("end", slot.EndTime))

		if err := t.Provider.Book(ctx, t.Query, slot); err != nil {
			log.Warn("order rejected", zap.Int("attempt", attempt), zap.Error(err))
			if err := r.pause(ctx); err != nil {
				return Result{}, err
			}
			continue
		}

		log.Info("booked",
			zap.String("field", slot.FieldName),
			zap.String("begin", slot.BeginTime),
			zap.Int("attempts", attempt))
		return Result{Task: t.Name, Slot: slot, Attempts: attempt}, nil
	}

	return Result{}, fmt.Errorf("%w after %d attempts", ErrNoSuccess, maxAttempts)
}

// RunAll runs tasks in parallel, one goroutine each. It never fails fast:
// every task gets its full attempt budget, then the successes are
// reported together. The returned error is non-nil when any task ended
// without a booking.
func (r *Runner) RunAll(ctx context.Context, tasks []Task) ([]Result, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	var booked atomic.Int64
	results := make([]Result, len(tasks))
	oks := make([]bool, len(tasks))

	g, ctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			res, err := r.Run(ctx, t)
			if err != nil {
				r.Log.Warn("task failed", zap.String("task", t.Name), zap.Error(err))
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return nil // let the other tasks keep trying
			}
			booked.Add(1)
			results[i] = res
			oks[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Result
	for i, ok := range oks {
		if ok {
			out = append(out, results[i])
		}
	}
	r.Log.Info("tasks finished",
		zap.Int("requested", len(tasks)),
		zap.Int64("booked", booked.Load()))
	if int(booked.Load()) < len(tasks) {
		return out, fmt.Errorf("%w: booked %d of %d", ErrNoSuccess, booked.Load(), len(tasks))
	}
	return out, nil
}

func (r *Runner) pause(ctx context.Context) error {
	return r.sleep(ctx, r.Pause)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
