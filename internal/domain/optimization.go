package domain

import (
	"time"

	"github.com/google/uuid"
)

// OptimizationRequest is the sweep request body for POST /optimizer/start.
type OptimizationRequest struct {
	ExchangeName        string                    `json:"exchange_name"`
	StrategyName        string                    `json:"strategy_name"`
	Symbol              string                    `json:"symbol"`
	Timeframe           string                    `json:"timeframe"`
	StartDate           string                    `json:"start_date"`
	EndDate             string                    `json:"end_date"`
	StrategyParamsRange map[string]ParamRangeSpec `json:"strategy_params_range"`
}

// StartJobResponse is returned by POST /optimizer/start.
type StartJobResponse struct {
	JobID string `json:"job_id"`
}

// Job is the last known state of an optimization job.
type Job struct {
	JobID     string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	TotalRuns int       `json:"total_runs"`
	Error     string    `json:"error,omitempty"`
}

// NewPendingJob seeds the state of a freshly started job.
func NewPendingJob(jobID string) *Job {
	return &Job{
		JobID:  jobID,
		Status: JobStatusPending,
	}
}

// Normalize clamps progress into [0, total_runs]. The status is kept as
// reported so an unexpected value can be surfaced verbatim.
func (j *Job) Normalize() {
	if j.Progress < 0 {
		j.Progress = 0
	}
	if j.TotalRuns < 0 {
		j.TotalRuns = 0
	}
	if j.Progress > j.TotalRuns {
		j.Progress = j.TotalRuns
	}
}

// IsComplete returns true once the job is no longer pending or running.
func (j *Job) IsComplete() bool {
	return !j.Status.IsActive()
}

// Clone returns a copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	return &out
}

// OptimizationResultItem holds the metrics of one parameter combination.
type OptimizationResultItem struct {
	Params      map[string]any `json:"params"`
	TotalReturn float64        `json:"total_return"`
	WinRate     float64        `json:"win_rate"`
	MaxDrawdown float64        `json:"max_drawdown"`
}

// OptimizationResultSet is the final payload of GET /optimizer/results/<id>.
// Results keep the order the execution service returned them in.
type OptimizationResultSet struct {
	Job
	Results []OptimizationResultItem `json:"results"`
}

// Top returns at most n leading results without re-ordering.
func (r *OptimizationResultSet) Top(n int) []OptimizationResultItem {
	if r == nil {
		return nil
	}
	if n <= 0 || n > len(r.Results) {
		n = len(r.Results)
	}
	return append([]OptimizationResultItem(nil), r.Results[:n]...)
}

// Clone returns a copy of the result set.
func (r *OptimizationResultSet) Clone() *OptimizationResultSet {
	if r == nil {
		return nil
	}
	out := *r
	out.Results = append([]OptimizationResultItem(nil), r.Results...)
	return &out
}

// Run is one journal entry of a submission made by this client.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Mode        Mode       `json:"mode"`
	Selection   Selection  `json:"selection"`
	JobID       string     `json:"job_id,omitempty"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Request     []byte     `json:"-"`
	Result      []byte     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRun creates a new Run with generated UUID.
func NewRun(mode Mode, sel Selection, request []byte) *Run {
	return &Run{
		ID:        uuid.New(),
		Mode:      mode,
		Selection: sel,
		Status:    RunStatusSubmitting,
		Request:   request,
		CreatedAt: time.Now(),
	}
}

// Duration returns the duration of the run.
func (r *Run) Duration() time.Duration {
	end := time.Now()
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	return end.Sub(r.CreatedAt)
}

// RunQuery represents query parameters for listing runs.
type RunQuery struct {
	Mode     *Mode      `json:"mode,omitempty"`
	Status   *RunStatus `json:"status,omitempty"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// SetDefaults sets default values for the query.
func (q *RunQuery) SetDefaults() {
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.PageSize > 100 {
		q.PageSize = 100
	}
}

// Offset returns the offset for pagination.
func (q *RunQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// PaginationResponse represents pagination metadata in responses.
type PaginationResponse struct {
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationResponse creates a new PaginationResponse.
func NewPaginationResponse(totalCount, page, pageSize int) PaginationResponse {
	totalPages := (totalCount + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	return PaginationResponse{
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
