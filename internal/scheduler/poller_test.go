package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/backtestlab/internal/domain"
)

const testInterval = 10 * time.Millisecond

// scriptedStatus returns the configured statuses in order, repeating the last one.
type scriptedStatus struct {
	mu       sync.Mutex
	statuses []domain.JobStatus
	err      error
	calls    atomic.Int32
}

func (s *scriptedStatus) fetch(ctx context.Context, jobID string) (*domain.Job, error) {
	n := int(s.calls.Add(1))
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := n - 1
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	return &domain.Job{JobID: jobID, Status: s.statuses[idx], Progress: n, TotalRuns: 10}, nil
}

func waitDone(t *testing.T, p *JobPoller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestJobPoller_StopsOnTerminalStatus(t *testing.T) {
	status := &scriptedStatus{statuses: []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusCompleted,
	}}

	var seen []domain.JobStatus
	p := NewJobPoller(context.Background(), "job-1", testInterval, status.fetch, func(_ context.Context, job *domain.Job, err error) bool {
		if !assert.NoError(t, err) {
			return false
		}
		seen = append(seen, job.Status)
		return !job.Status.IsTerminal()
	}, zaptest.NewLogger(t))

	p.Start()
	waitDone(t, p)

	assert.Equal(t, []domain.JobStatus{
		domain.JobStatusPending,
		domain.JobStatusRunning,
		domain.JobStatusCompleted,
	}, seen)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(3), status.calls.Load(), "no fetch after terminal status")
}

func TestJobPoller_StopsOnFetchError(t *testing.T) {
	status := &scriptedStatus{err: errors.New("connection refused")}

	var handled atomic.Int32
	p := NewJobPoller(context.Background(), "job-1", testInterval, status.fetch, func(_ context.Context, job *domain.Job, err error) bool {
		handled.Add(1)
		assert.Error(t, err)
		return false
	}, zaptest.NewLogger(t))

	p.Start()
	waitDone(t, p)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(1), status.calls.Load())
	assert.Equal(t, int32(1), handled.Load())
}

func TestJobPoller_StopCancelsFurtherFetches(t *testing.T) {
	status := &scriptedStatus{statuses: []domain.JobStatus{domain.JobStatusRunning}}

	p := NewJobPoller(context.Background(), "job-1", testInterval, status.fetch, func(_ context.Context, job *domain.Job, err error) bool {
		return true
	}, zaptest.NewLogger(t))

	p.Start()
	time.Sleep(5 * testInterval)
	p.Stop()

	calls := status.calls.Load()
	time.Sleep(5 * testInterval)
	assert.Equal(t, calls, status.calls.Load())
}

func TestJobPoller_StopBeforeStart(t *testing.T) {
	status := &scriptedStatus{statuses: []domain.JobStatus{domain.JobStatusRunning}}
	p := NewJobPoller(context.Background(), "job-1", testInterval, status.fetch, func(context.Context, *domain.Job, error) bool {
		return true
	}, zaptest.NewLogger(t))

	p.Stop()
	p.Start()
	waitDone(t, p)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(0), status.calls.Load())
}

func TestJobPoller_FirstFetchWaitsOneInterval(t *testing.T) {
	status := &scriptedStatus{statuses: []domain.JobStatus{domain.JobStatusCompleted}}
	p := NewJobPoller(context.Background(), "job-1", 200*time.Millisecond, status.fetch, func(context.Context, *domain.Job, error) bool {
		return false
	}, zaptest.NewLogger(t))

	p.Start()
	defer p.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), status.calls.Load())
}

func TestJobPoller_ParentCancellation(t *testing.T) {
	status := &scriptedStatus{statuses: []domain.JobStatus{domain.JobStatusRunning}}
	ctx, cancel := context.WithCancel(context.Background())

	p := NewJobPoller(ctx, "job-1", testInterval, status.fetch, func(context.Context, *domain.Job, error) bool {
		return true
	}, zaptest.NewLogger(t))

	p.Start()
	time.Sleep(3 * testInterval)
	cancel()
	waitDone(t, p)

	calls := status.calls.Load()
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, status.calls.Load())
}
