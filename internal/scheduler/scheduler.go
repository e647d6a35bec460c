// Package scheduler polls for due booking jobs and runs one booking cycle
// per job per interval while the job's window is open.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ResDream/TJU-vfmc-ticket/internal/booking"
	"github.com/ResDream/TJU-vfmc-ticket/internal/jobs"
)

// JobStore is the slice of the jobs repo the scheduler needs.
type JobStore interface {
	DueJobs(ctx context.Context, limit int) ([]jobs.Job, error)
	MarkAttempt(ctx context.Context, jobID int64, slot booking.Slot, success bool, detail string) error
	SetStatus(ctx context.Context, jobID int64, status string, lastErr *string) error
	FailExpired(ctx context.Context) error
}

// ProviderFactory builds the venue client for a job's owner (each user has
// their own vendor session).
type ProviderFactory func(ctx context.Context, userID int64) (booking.Provider, error)

type Scheduler struct {
	Jobs      JobStore
	Providers ProviderFactory
	Interval  time.Duration
	Log       *zap.Logger

	rng *rand.Rand

	mu       sync.Mutex
	inflight map[int64]struct{}
	wg       sync.WaitGroup
}

func New(store JobStore, providers ProviderFactory, interval time.Duration, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Jobs:      store,
		Providers: providers,
		Interval:  interval,
		Log:       log,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		inflight:  make(map[int64]struct{}),
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	// Windows can close between ticks; retire those jobs before polling
	// for due ones.
	if err := s.Jobs.FailExpired(ctx); err != nil {
		s.Log.Error("expire jobs failed", zap.Error(err))
	}

	js, err := s.Jobs.DueJobs(ctx, 25)
	if err != nil {
		s.Log.Error("due jobs query failed", zap.Error(err))
		return
	}

	now := time.Now()
	for _, j := range js {
		if j.NextAttemptAt().After(now) {
			continue
		}
		if !s.claim(j.ID) {
			continue
		}

		j := j
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release(j.ID)
			s.runAttempt(ctx, j)
		}()
	}
}

// runAttempt is one fetch -> select -> submit cycle for a scheduled job.
// The interval loop, not this function, provides the retries.
func (s *Scheduler) runAttempt(ctx context.Context, j jobs.Job) {
	log := s.Log.With(zap.Int64("job_id", j.ID), zap.String("job", j.Name))

	provider, err := s.Providers(ctx, j.UserID)
	if err != nil {
		log.Warn("no provider for job owner", zap.Error(err))
		s.mark(ctx, j, booking.Slot{}, false, fmt.Sprintf("credentials unavailable: %v", err))
		return
	}

	if err := provider.Ping(ctx, j.Query()); err != nil {
		log.Warn("session check failed", zap.Error(err))
		s.mark(ctx, j, booking.Slot{}, false, fmt.Sprintf("session check failed: %v", err))
		return
	}

	slots, err := provider.FetchAvailable(ctx, j.Query())
	if err != nil {
		log.Warn("availability fetch failed", zap.Error(err))
		s.mark(ctx, j, booking.Slot{}, false, fmt.Sprintf("fetch failed: %v", err))
		return
	}
	slot, ok := booking.SelectSlot(slots, j.PreferredTimes, s.rng)
	if !ok {
		log.Info("no bookable slots")
		s.mark(ctx, j, booking.Slot{}, false, "no bookable slots")
		return
	}

	if err := provider.Book(ctx, j.Query(), slot); err != nil {
		log.Warn("order rejected", zap.String("field", slot.FieldName), zap.Error(err))
		s.mark(ctx, j, slot, false, fmt.Sprintf("order rejected: %v", err))
		return
	}

	log.Info("job booked", zap.String("field", slot.FieldName), zap.String("begin", slot.BeginTime))
	if err := s.Jobs.MarkAttempt(ctx, j.ID, slot, true, "booked"); err != nil {
		log.Error("mark attempt failed", zap.Error(err))
	}
}

// mark records a failed cycle and retires the job once its window closed
// or its attempt budget ran out.
func (s *Scheduler) mark(ctx context.Context, j jobs.Job, slot booking.Slot, success bool, detail string) {
	if err := s.Jobs.MarkAttempt(ctx, j.ID, slot, success, detail); err != nil {
		s.Log.Error("mark attempt failed", zap.Int64("job_id", j.ID), zap.Error(err))
	}

	j.AttemptCount++ // mirror what MarkAttempt just persisted
	now := time.Now()
	if now.After(j.WindowEndAt) || j.Exhausted() {
		msg := "attempt window ended without success"
		if j.Exhausted() {
			msg = fmt.Sprintf("gave up after %d attempts", j.AttemptCount)
		}
		if err := s.Jobs.SetStatus(ctx, j.ID, jobs.StatusFailed, &msg); err != nil {
			s.Log.Error("set status failed", zap.Int64("job_id", j.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) claim(jobID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[jobID]; busy {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}
