// Package events provides lifecycle event publishing for backtestlab.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/backtestlab/internal/domain"
)

// Routing keys for events.
const (
	// Single backtest events
	RoutingKeyBacktestSubmitted = "backtest.submitted"
	RoutingKeyBacktestCompleted = "backtest.completed"
	RoutingKeyBacktestFailed    = "backtest.failed"

	// Optimization job events
	RoutingKeyOptStarted   = "optimization.started"
	RoutingKeyOptProgress  = "optimization.progress"
	RoutingKeyOptCompleted = "optimization.completed"
	RoutingKeyOptFailed    = "optimization.failed"
	RoutingKeyOptAbandoned = "optimization.abandoned"
)

// Event types mirror the routing keys.
const (
	EventTypeBacktestSubmitted = RoutingKeyBacktestSubmitted
	EventTypeBacktestCompleted = RoutingKeyBacktestCompleted
	EventTypeBacktestFailed    = RoutingKeyBacktestFailed
	EventTypeOptStarted        = RoutingKeyOptStarted
	EventTypeOptProgress       = RoutingKeyOptProgress
	EventTypeOptCompleted      = RoutingKeyOptCompleted
	EventTypeOptFailed         = RoutingKeyOptFailed
	EventTypeOptAbandoned      = RoutingKeyOptAbandoned
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    "backtestlab",
	}
}

// Type returns the event type.
func (e BaseEvent) Type() string {
	return e.EventType
}

// BacktestSubmittedEvent is published when a single backtest is sent.
type BacktestSubmittedEvent struct {
	BaseEvent
	domain.Selection
}

// NewBacktestSubmittedEvent creates a new BacktestSubmittedEvent.
func NewBacktestSubmittedEvent(sel domain.Selection) *BacktestSubmittedEvent {
	return &BacktestSubmittedEvent{
		BaseEvent: NewBaseEvent(EventTypeBacktestSubmitted),
		Selection: sel,
	}
}

// BacktestCompletedEvent is published when a single backtest returns a result.
type BacktestCompletedEvent struct {
	BaseEvent
	Strategy    string  `json:"strategy"`
	Market      string  `json:"market"`
	TotalReturn float64 `json:"total_return"`
	WinRate     float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`
	TotalTrades int     `json:"total_trades"`
}

// NewBacktestCompletedEvent creates a new BacktestCompletedEvent.
func NewBacktestCompletedEvent(sel domain.Selection, result *domain.SingleResult) *BacktestCompletedEvent {
	return &BacktestCompletedEvent{
		BaseEvent:   NewBaseEvent(EventTypeBacktestCompleted),
		Strategy:    sel.Strategy,
		Market:      sel.Market,
		TotalReturn: result.TotalReturn,
		WinRate:     result.WinRate,
		MaxDrawdown: result.MaxDrawdown,
		SharpeRatio: result.SharpeRatio,
		TotalTrades: len(result.TradeLogs),
	}
}

// BacktestFailedEvent is published when a single backtest fails.
type BacktestFailedEvent struct {
	BaseEvent
	Strategy     string `json:"strategy"`
	Market       string `json:"market"`
	ErrorMessage string `json:"error_message"`
}

// NewBacktestFailedEvent creates a new BacktestFailedEvent.
func NewBacktestFailedEvent(sel domain.Selection, errMsg string) *BacktestFailedEvent {
	return &BacktestFailedEvent{
		BaseEvent:    NewBaseEvent(EventTypeBacktestFailed),
		Strategy:     sel.Strategy,
		Market:       sel.Market,
		ErrorMessage: errMsg,
	}
}

// OptimizationEvent is published for every optimization job transition.
type OptimizationEvent struct {
	BaseEvent
	JobID        string           `json:"job_id"`
	Strategy     string           `json:"strategy,omitempty"`
	Market       string           `json:"market,omitempty"`
	Status       domain.JobStatus `json:"status"`
	Progress     int              `json:"progress"`
	TotalRuns    int              `json:"total_runs"`
	ResultCount  int              `json:"result_count,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// NewOptimizationEvent creates an OptimizationEvent of the given type from the job state.
func NewOptimizationEvent(eventType string, sel domain.Selection, job *domain.Job) *OptimizationEvent {
	event := &OptimizationEvent{
		BaseEvent: NewBaseEvent(eventType),
		Strategy:  sel.Strategy,
		Market:    sel.Market,
	}
	if job != nil {
		event.JobID = job.JobID
		event.Status = job.Status
		event.Progress = job.Progress
		event.TotalRuns = job.TotalRuns
		event.ErrorMessage = job.Error
	}
	return event
}
