package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/storage"
)

// Submitter accepts runs for processing. Implemented by *Dispatcher.
type Submitter interface {
	StartRun(ctx context.Context, runID uuid.UUID) (*Handle, error)
	Active(runID uuid.UUID) bool
}

// SchedulerSettings tune the Scheduler.
type SchedulerSettings struct {
	Interval     time.Duration
	RetryBackoff time.Duration // delay before the first retry; doubles per retry
	StaleAfter   time.Duration // processing runs idle this long are failed
	BatchSize    int
}

const (
	maxRetryBackoff   = time.Hour
	defaultBatchSize  = 100
	msgProcessingLost = "Processing stopped responding"
)

// Scheduler periodically re-submits queued runs whose retry delay has
// elapsed and fails processing runs that stopped making progress. A queued
// run that was never retried becomes due after StaleAfter, which recovers
// submissions lost to a restart.
type Scheduler struct {
	store    RunStore
	submit   Submitter
	logger   *slog.Logger
	settings SchedulerSettings
	now      func() time.Time

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
}

// NewScheduler creates a Scheduler.
func NewScheduler(store RunStore, submit Submitter, s SchedulerSettings, logger *slog.Logger) *Scheduler {
	if s.BatchSize <= 0 {
		s.BatchSize = defaultBatchSize
	}
	return &Scheduler{
		store:    store,
		submit:   submit,
		logger:   logger,
		settings: s,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// RetryDelay returns how long a queued run with the given retry count waits
// before it is re-submitted.
func (s *Scheduler) RetryDelay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return s.settings.StaleAfter
	}
	d := s.settings.RetryBackoff
	for i := 1; i < retryCount && d < maxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, maxRetryBackoff)
}

// Start begins the background loop. It is safe to call only once.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("scheduler: Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancelLoop = cancel
	go s.loop(loopCtx)
}

// Drain stops the loop and waits for the current tick to finish.
func (s *Scheduler) Drain(ctx context.Context) {
	if s.cancelLoop == nil {
		return
	}
	s.cancelLoop()
	select {
	case <-s.done:
	case <-ctx.Done():
		s.logger.Warn("scheduler: drain timed out")
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.once.Do(func() { close(s.done) })
	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, s.settings.Interval)
			s.Tick(tickCtx)
			cancel()
		}
	}
}

// Tick runs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	s.failStale(ctx)
	s.resubmitDue(ctx)
}

func (s *Scheduler) resubmitDue(ctx context.Context) {
	runs, err := s.store.ListRuns(ctx, model.RunFilter{Status: model.RunStatusQueued, Limit: s.settings.BatchSize})
	if err != nil {
		s.logger.Error("scheduler: list queued runs", "error", err)
		return
	}
	now := s.now()
	for _, r := range runs {
		if s.submit.Active(r.ID) || now.Sub(r.UpdatedAt) < s.RetryDelay(r.RetryCount) {
			continue
		}
		_, err := s.submit.StartRun(ctx, r.ID)
		switch {
		case err == nil:
			s.logger.Info("scheduler: run resubmitted", "run_id", r.ID, "retry_count", r.RetryCount)
		case errors.Is(err, ErrGenerationDisabled), errors.Is(err, ErrQueueFull), errors.Is(err, ErrDispatcherClosed):
			s.logger.Info("scheduler: resubmission deferred", "run_id", r.ID, "reason", err)
			return
		default:
			s.logger.Error("scheduler: resubmit run", "run_id", r.ID, "error", err)
		}
	}
}

func (s *Scheduler) failStale(ctx context.Context) {
	if s.settings.StaleAfter <= 0 {
		return
	}
	runs, err := s.store.ListRuns(ctx, model.RunFilter{
		Status:        model.RunStatusProcessing,
		UpdatedBefore: s.now().Add(-s.settings.StaleAfter),
		Limit:         s.settings.BatchSize,
	})
	if err != nil {
		s.logger.Error("scheduler: list stale runs", "error", err)
		return
	}
	for _, r := range runs {
		if s.submit.Active(r.ID) {
			continue
		}
		failed, processing := model.RunStatusFailed, model.RunStatusProcessing
		now := s.now().UTC()
		if err := s.store.UpdateRun(ctx, r.ID, model.RunUpdate{
			ExpectStatus:  &processing,
			Status:        &failed,
			StatusMessage: ptr(MsgFailed),
			ErrorMessage:  ptr(msgProcessingLost),
			CompletedAt:   &now,
		}); err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) {
				s.logger.Debug("scheduler: stale run moved on", "run_id", r.ID)
				continue
			}
			s.logger.Error("scheduler: fail stale run", "run_id", r.ID, "error", err)
			continue
		}
		s.logger.Warn("scheduler: stale run failed", "run_id", r.ID, "last_update", r.UpdatedAt)
	}
}
