// Package scheduler drives the periodic status polling of optimization jobs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/domain"
)

// DefaultPollInterval is the delay between two status fetches.
const DefaultPollInterval = 3 * time.Second

// StatusFunc fetches the current state of a job.
type StatusFunc func(ctx context.Context, jobID string) (*domain.Job, error)

// Handler receives the outcome of each status fetch and returns whether the
// poller should re-arm. ctx is cancelled when the poller is stopped. The
// handler must not call Stop on its own poller.
type Handler func(ctx context.Context, job *domain.Job, err error) bool

// JobPoller polls one job on a re-arming timer. Fetch, evaluate and re-arm run
// strictly in sequence on a single goroutine, so at most one fetch is
// outstanding at any time.
type JobPoller struct {
	jobID    string
	interval time.Duration
	fetch    StatusFunc
	handle   Handler
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	done   chan struct{}
}

// NewJobPoller creates a poller for jobID. The poller does nothing until Start
// and stops on its own when parent is cancelled.
func NewJobPoller(
	parent context.Context,
	jobID string,
	interval time.Duration,
	fetch StatusFunc,
	handle Handler,
	logger *zap.Logger,
) *JobPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(parent)

	return &JobPoller{
		jobID:    jobID,
		interval: interval,
		fetch:    fetch,
		handle:   handle,
		logger:   logger.With(zap.String("component", "poller"), zap.String("job_id", jobID)),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// JobID returns the polled job id.
func (p *JobPoller) JobID() string {
	return p.jobID
}

// Start arms the first timer. Calling Start more than once has no effect.
func (p *JobPoller) Start() {
	p.start.Do(func() {
		p.logger.Debug("Starting poller", zap.Duration("interval", p.interval))
		p.wg.Add(1)
		go p.run()
	})
}

// Stop cancels the timer and any in-flight fetch, then waits for the polling
// goroutine to exit. No handler call happens after Stop returns.
func (p *JobPoller) Stop() {
	p.cancel()
	p.start.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// Done is closed when the poller has stopped for any reason.
func (p *JobPoller) Done() <-chan struct{} {
	return p.done
}

func (p *JobPoller) run() {
	defer p.wg.Done()
	defer close(p.done)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("Poller cancelled")
			return
		case <-timer.C:
		}

		job, err := p.fetch(p.ctx, p.jobID)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Warn("Failed to fetch job status", zap.Error(err))
		}

		if !p.handle(p.ctx, job, err) {
			p.logger.Debug("Poller finished")
			return
		}
		timer.Reset(p.interval)
	}
}
