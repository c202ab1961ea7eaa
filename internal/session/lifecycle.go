package session

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/domain"
	"github.com/saltfish/backtestlab/internal/events"
	"github.com/saltfish/backtestlab/internal/scheduler"
)

// Submit sends the current selections in the current mode. It returns once
// the submission has started; observe progress with Snapshot, Changes or Done.
func (s *Session) Submit() error {
	s.mu.Lock()
	if err := s.canSubmitLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.mode == domain.ModeOptimize && s.cfg.ValidateRanges {
		if err := s.validateRangesLocked(); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	oldCancel, oldPoller := s.detachRunLocked()

	s.results.reset()
	s.job = nil
	s.errMsg = ""
	s.inFlight = true
	s.status = domain.RunStatusSubmitting
	s.done = make(chan struct{})
	s.runGen++
	gen := s.runGen
	runCtx, cancel := context.WithCancel(s.ctx)
	s.runCancel = cancel

	sel := s.sel
	var payload any
	if s.mode == domain.ModeOptimize {
		req := s.optimizationRequestLocked()
		payload = req
		s.goLocked(func() { s.startOptimization(runCtx, gen, sel, req) })
	} else {
		req := s.backtestRequestLocked()
		payload = req
		s.publishLocked(events.RoutingKeyBacktestSubmitted, events.NewBacktestSubmittedEvent(sel))
		s.goLocked(func() { s.runBacktest(runCtx, gen, sel, req) })
	}
	s.beginRunLocked(payload)
	s.notifyLocked()
	s.logger.Info("Submitted run", zap.String("mode", s.mode.String()), zap.String("strategy", sel.Strategy))
	s.mu.Unlock()

	stopRun(oldCancel, oldPoller)
	return nil
}

// SetMode switches between single and optimize. Any in-flight submission is
// abandoned: its poll is cancelled and the job, result and error are cleared.
func (s *Session) SetMode(mode domain.Mode) error {
	if !mode.IsValid() {
		return domain.NewFieldError("mode", "must be one of single, optimize")
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrSessionDisposed
	}
	if mode == s.mode {
		s.mu.Unlock()
		return nil
	}
	s.abandonLocked()
	s.mode = mode
	s.results.reset()
	s.job = nil
	s.errMsg = ""
	s.status = domain.RunStatusIdle
	oldCancel, oldPoller := s.detachRunLocked()
	s.notifyLocked()
	s.mu.Unlock()

	stopRun(oldCancel, oldPoller)
	return nil
}

// Dispose tears the session down. It cancels the poll timer and every
// outstanding request, and returns only after all background work has
// exited. No state is written afterwards.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.abandonLocked()
	s.disposed = true
	oldCancel, oldPoller := s.detachRunLocked()
	s.notifyLocked()
	s.mu.Unlock()

	stopRun(oldCancel, oldPoller)
	s.cancel()
	s.wg.Wait()
	s.outbox.close()
	s.logger.Debug("Session disposed")
}

// Done returns a channel closed when the current submission ends, whether
// by result, failure or cancellation.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Status returns the lifecycle state of the current submission.
func (s *Session) Status() domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Job returns the last known state of the optimization job, or nil.
func (s *Session) Job() *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job.Clone()
}

// InFlight reports whether a submission is in progress.
func (s *Session) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Session) runBacktest(ctx context.Context, gen uint64, sel domain.Selection, req *domain.BacktestRequest) {
	result, err := s.backend.RunBacktest(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || gen != s.runGen {
		return
	}

	if err != nil {
		msg := errorText(err, "Backtest failed.")
		s.failLocked(msg)
		s.publishLocked(events.RoutingKeyBacktestFailed, events.NewBacktestFailedEvent(sel, msg))
		s.logger.Warn("Backtest failed", zap.Error(err))
		return
	}

	if err := s.results.setSingle(result); err != nil {
		s.logger.Error("Dropping duplicate backtest result", zap.Error(err))
		return
	}
	s.status = domain.RunStatusCompleted
	s.publishLocked(events.RoutingKeyBacktestCompleted, events.NewBacktestCompletedEvent(sel, result))
	s.finishRunLocked(result)
	s.endLocked()
}

func (s *Session) startOptimization(ctx context.Context, gen uint64, sel domain.Selection, req *domain.OptimizationRequest) {
	jobID, err := s.backend.StartOptimization(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || gen != s.runGen {
		return
	}

	if err != nil {
		msg := errorText(err, "Failed to start optimization.")
		s.failLocked(msg)
		s.publishLocked(events.RoutingKeyOptFailed, events.NewOptimizationEvent(events.EventTypeOptFailed, sel, &domain.Job{
			Status: domain.JobStatusFailed,
			Error:  msg,
		}))
		s.logger.Warn("Failed to start optimization", zap.Error(err))
		return
	}

	s.job = domain.NewPendingJob(jobID)
	s.status = domain.RunStatusPending
	if s.run != nil {
		s.run.JobID = jobID
		s.run.Status = domain.RunStatusPending
		s.recordLocked(false)
	}

	s.poller = scheduler.NewJobPoller(ctx, jobID, s.cfg.PollInterval,
		s.backend.OptimizationStatus, s.pollHandler(gen, sel), s.logger)
	s.poller.Start()

	s.publishLocked(events.RoutingKeyOptStarted, events.NewOptimizationEvent(events.EventTypeOptStarted, sel, s.job))
	s.notifyLocked()
	s.logger.Info("Optimization started", zap.String("job_id", jobID))
}

// pollHandler evaluates each status fetch for the run identified by gen and
// decides whether the poller re-arms.
func (s *Session) pollHandler(gen uint64, sel domain.Selection) scheduler.Handler {
	return func(ctx context.Context, job *domain.Job, err error) bool {
		s.mu.Lock()
		if s.disposed || gen != s.runGen {
			s.mu.Unlock()
			return false
		}

		if err != nil {
			s.failLocked("Failed to get job status.")
			s.publishLocked(events.RoutingKeyOptFailed, events.NewOptimizationEvent(events.EventTypeOptFailed, sel, s.job))
			s.mu.Unlock()
			return false
		}

		jobID := s.job.JobID
		if job.JobID == "" {
			job.JobID = jobID
		}
		s.job = job.Clone()
		s.notifyLocked()

		switch job.Status {
		case domain.JobStatusFailed:
			msg := job.Error
			if msg == "" {
				msg = "Optimization job failed."
			}
			s.failLocked(msg)
			s.publishLocked(events.RoutingKeyOptFailed, events.NewOptimizationEvent(events.EventTypeOptFailed, sel, s.job))
			s.mu.Unlock()
			return false

		case domain.JobStatusCompleted:
			s.mu.Unlock()
			s.fetchResults(ctx, gen, sel, jobID)
			return false

		case domain.JobStatusPending, domain.JobStatusRunning:
			if job.Status == domain.JobStatusRunning {
				s.status = domain.RunStatusRunning
			} else {
				s.status = domain.RunStatusPending
			}
			s.publishLocked(events.RoutingKeyOptProgress, events.NewOptimizationEvent(events.EventTypeOptProgress, sel, s.job))
			s.mu.Unlock()
			return true

		default:
			msg := job.Error
			if msg == "" {
				msg = fmt.Sprintf("Optimization job reported unknown status %q.", job.Status)
			}
			s.logger.Warn("Stopping poll on unknown job status",
				zap.String("job_id", jobID),
				zap.String("status", job.Status.String()),
			)
			s.failLocked(msg)
			s.publishLocked(events.RoutingKeyOptFailed, events.NewOptimizationEvent(events.EventTypeOptFailed, sel, s.job))
			s.mu.Unlock()
			return false
		}
	}
}

// fetchResults performs the single results fetch of a completed job. A
// failure is surfaced without retracting the completed status.
func (s *Session) fetchResults(ctx context.Context, gen uint64, sel domain.Selection, jobID string) {
	set, err := s.backend.OptimizationResults(ctx, jobID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed || gen != s.runGen {
		return
	}

	s.status = domain.RunStatusCompleted
	if err != nil {
		s.errMsg = "Failed to fetch optimization results: " + errorText(err, "unknown error")
		s.logger.Warn("Failed to fetch optimization results", zap.String("job_id", jobID), zap.Error(err))
		s.finishRunLocked(nil)
	} else if err := s.results.setOptimization(set); err != nil {
		s.logger.Error("Dropping duplicate optimization result", zap.Error(err))
	} else {
		s.finishRunLocked(set)
	}

	event := events.NewOptimizationEvent(events.EventTypeOptCompleted, sel, s.job)
	event.ResultCount = s.results.count()
	s.publishLocked(events.RoutingKeyOptCompleted, event)
	s.endLocked()
}

// failLocked ends the current submission with a user-visible message.
func (s *Session) failLocked(msg string) {
	s.status = domain.RunStatusFailed
	s.errMsg = msg
	if s.run != nil {
		s.run.Status = domain.RunStatusFailed
		s.run.Error = msg
		now := time.Now()
		s.run.CompletedAt = &now
		s.recordLocked(false)
	}
	s.endLocked()
}

// endLocked clears the in-flight flag and releases Done waiters.
func (s *Session) endLocked() {
	s.inFlight = false
	s.closeDoneLocked()
	s.notifyLocked()
}

func (s *Session) closeDoneLocked() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// abandonLocked marks an unfinished submission as abandoned.
func (s *Session) abandonLocked() {
	if !s.inFlight {
		return
	}
	if s.job != nil {
		s.publishLocked(events.RoutingKeyOptAbandoned, events.NewOptimizationEvent(events.EventTypeOptAbandoned, s.sel, s.job))
	}
	if s.run != nil {
		s.run.Status = domain.RunStatusAbandoned
		now := time.Now()
		s.run.CompletedAt = &now
		s.recordLocked(false)
	}
	s.status = domain.RunStatusAbandoned
	s.runGen++
	s.endLocked()
}

// detachRunLocked hands the current run's cancel func and poller to the
// caller, who must stop them after releasing the lock.
func (s *Session) detachRunLocked() (context.CancelFunc, *scheduler.JobPoller) {
	cancel, poller := s.runCancel, s.poller
	s.runCancel = nil
	s.poller = nil
	return cancel, poller
}

func stopRun(cancel context.CancelFunc, poller *scheduler.JobPoller) {
	if cancel != nil {
		cancel()
	}
	if poller != nil {
		poller.Stop()
	}
}

// beginRunLocked opens a journal entry for the submission.
func (s *Session) beginRunLocked(payload any) {
	s.run = nil
	if s.recorder == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("Failed to encode run request", zap.Error(err))
	}
	s.run = domain.NewRun(s.mode, s.sel, body)
	s.recordLocked(true)
}

// finishRunLocked closes the journal entry with its result.
func (s *Session) finishRunLocked(result any) {
	if s.run == nil {
		return
	}
	if result != nil {
		if body, err := json.Marshal(result); err == nil {
			s.run.Result = body
		}
	}
	s.run.Status = domain.RunStatusCompleted
	s.run.Error = s.errMsg
	now := time.Now()
	s.run.CompletedAt = &now
	s.recordLocked(false)
}

// recordLocked queues a journal write of the current run state.
func (s *Session) recordLocked(create bool) {
	if s.recorder == nil || s.run == nil {
		return
	}
	run := *s.run
	s.enqueueLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		var err error
		if create {
			err = s.recorder.Create(ctx, &run)
		} else {
			err = s.recorder.Update(ctx, &run)
		}
		if err != nil {
			s.logger.Warn("Failed to record run", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	})
}
