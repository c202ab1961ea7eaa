package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus(t *testing.T) {
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())

	assert.True(t, JobStatusPending.IsActive())
	assert.True(t, JobStatusRunning.IsActive())
	assert.False(t, JobStatus("cancelled").IsActive())
	assert.False(t, JobStatus("").IsActive())

	assert.Equal(t, JobStatusRunning, JobStatusFromString("running"))
	assert.Equal(t, JobStatusUnknown, JobStatusFromString("exploded"))
}

func TestJob_Normalize(t *testing.T) {
	job := &Job{JobID: "j1", Status: "cancelled", Progress: 12, TotalRuns: 10}
	job.Normalize()

	assert.Equal(t, JobStatus("cancelled"), job.Status, "status is kept as reported")
	assert.Equal(t, 10, job.Progress)
	assert.True(t, job.IsComplete())

	job = &Job{Progress: -3}
	job.Normalize()
	assert.Equal(t, 0, job.Progress)

	job = &Job{Status: JobStatusRunning, Progress: 7}
	job.Normalize()
	assert.Equal(t, 0, job.Progress, "progress never exceeds total runs")
	assert.False(t, job.IsComplete())
}

func TestOptimizationResultSet_Top(t *testing.T) {
	set := &OptimizationResultSet{}
	for i := 0; i < 15; i++ {
		set.Results = append(set.Results, OptimizationResultItem{TotalReturn: float64(i)})
	}

	top := set.Top(10)
	assert.Len(t, top, 10)
	assert.Equal(t, 0.0, top[0].TotalReturn, "order is preserved")
	assert.Equal(t, 9.0, top[9].TotalReturn)

	assert.Len(t, set.Top(0), 15)

	var empty *OptimizationResultSet
	assert.Nil(t, empty.Top(10))
}

func TestSelection_Missing(t *testing.T) {
	sel := Selection{Exchange: "binance", Market: "BTC/USDT"}
	assert.Equal(t, []string{"timeframe", "strategy", "start_date", "end_date"}, sel.Missing())
	assert.False(t, sel.IsComplete())

	sel.Timeframe = "1d"
	sel.Strategy = "Sma"
	sel.StartDate = "2023-01-01"
	sel.EndDate = "2023-06-01"
	assert.True(t, sel.IsComplete())
}

func TestErrors_Unwrap(t *testing.T) {
	assert.True(t, errors.Is(NewFieldError("market", "not offered"), ErrInvalidInput))
	assert.True(t, errors.Is(NewNotFoundError("run", "abc"), ErrNotFound))
	assert.Equal(t, "run not found: abc", NewNotFoundError("run", "abc").Error())
}

func TestRunQuery_SetDefaults(t *testing.T) {
	q := RunQuery{PageSize: 500}
	q.SetDefaults()
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 100, q.PageSize)
	assert.Equal(t, 0, q.Offset())

	p := NewPaginationResponse(0, 1, 20)
	assert.Equal(t, 1, p.TotalPages)
}
