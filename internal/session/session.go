// Package session orchestrates one user's backtest and optimization workflow:
// cascading option resolution, the parameter model, request building, the job
// lifecycle and the result store.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/config"
	"github.com/saltfish/backtestlab/internal/domain"
	"github.com/saltfish/backtestlab/internal/events"
	"github.com/saltfish/backtestlab/internal/scheduler"
)

// Backend is the subset of the execution service the session drives.
type Backend interface {
	SupportedExchanges(ctx context.Context) ([]string, error)
	SupportedTimeframes(ctx context.Context) ([]string, error)
	Strategies(ctx context.Context) ([]string, error)
	Markets(ctx context.Context, exchange string) ([]string, error)
	StrategyParams(ctx context.Context, strategy string) ([]domain.ParameterDef, error)
	UploadStrategy(ctx context.Context, filename string, content io.Reader) (*domain.ResponseMessage, error)
	RunBacktest(ctx context.Context, req *domain.BacktestRequest) (*domain.SingleResult, error)
	StartOptimization(ctx context.Context, req *domain.OptimizationRequest) (string, error)
	OptimizationStatus(ctx context.Context, jobID string) (*domain.Job, error)
	OptimizationResults(ctx context.Context, jobID string) (*domain.OptimizationResultSet, error)
}

// RunRecorder persists submitted runs. Implementations must be safe for
// concurrent use.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.Run) error
	Update(ctx context.Context, run *domain.Run) error
}

// Config holds the session's workflow defaults.
type Config struct {
	PollInterval        time.Duration
	DefaultTimeframe    string
	DefaultMarket       string
	DefaultStartDate    string
	ResultsDisplayLimit int
	ValidateRanges      bool
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg *config.SessionConfig) Config {
	return Config{
		PollInterval:        cfg.PollIntervalDuration(),
		DefaultTimeframe:    cfg.DefaultTimeframe,
		DefaultMarket:       cfg.DefaultMarket,
		DefaultStartDate:    cfg.DefaultStartDate,
		ResultsDisplayLimit: cfg.ResultsDisplayLimit,
		ValidateRanges:      cfg.ValidateRanges,
	}
}

const recordTimeout = 5 * time.Second

// Session holds every piece of mutable workflow state behind one mutex.
// Network calls run outside the lock; their completions re-acquire it and
// are discarded when the session is disposed or a newer request superseded
// them.
type Session struct {
	cfg       Config
	backend   Backend
	publisher events.Publisher
	recorder  RunRecorder
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	outbox   *outbox
	changed  chan struct{}
	disposed bool

	// resolver
	mode           domain.Mode
	sel            domain.Selection
	opts           domain.Options
	loadGen        uint64
	loading        bool
	loadFailed     bool
	marketsGen     uint64
	marketsLoading bool
	paramsGen      uint64
	paramsLoading  bool
	paramsFailed   bool

	// parameter model
	defs   []domain.ParameterDef
	values domain.ParamValues
	ranges domain.ParamRanges

	// lifecycle
	errMsg    string
	inFlight  bool
	runGen    uint64
	runCancel context.CancelFunc
	status    domain.RunStatus
	job       *domain.Job
	poller    *scheduler.JobPoller
	done      chan struct{}
	run       *domain.Run
	results   resultStore
}

// New creates a session. publisher and recorder may be nil.
func New(
	cfg Config,
	backend Backend,
	publisher events.Publisher,
	recorder RunRecorder,
	logger *zap.Logger,
) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = scheduler.DefaultPollInterval
	}
	if cfg.ResultsDisplayLimit <= 0 {
		cfg.ResultsDisplayLimit = 10
	}
	if publisher == nil {
		publisher = events.NewNoOpPublisher()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)

	s := &Session{
		cfg:       cfg,
		backend:   backend,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "session")),
		ctx:       ctx,
		cancel:    cancel,
		outbox:    newOutbox(),
		changed:   make(chan struct{}),
		mode:      domain.ModeSingle,
		values:    domain.ParamValues{},
		ranges:    domain.ParamRanges{},
		status:    domain.RunStatusIdle,
		done:      done,
		results:   resultStore{limit: cfg.ResultsDisplayLimit},
	}
	s.sel.StartDate = cfg.DefaultStartDate
	s.sel.EndDate = time.Now().Format(time.DateOnly)
	return s
}

// State is a point-in-time copy of the session.
type State struct {
	Mode           domain.Mode                     `json:"mode"`
	Selection      domain.Selection                `json:"selection"`
	Options        domain.Options                  `json:"options"`
	Loading        bool                            `json:"loading"`
	MarketsLoading bool                            `json:"markets_loading"`
	ParamsLoading  bool                            `json:"params_loading"`
	Params         []domain.ParameterDef           `json:"params"`
	ParamValues    domain.ParamValues              `json:"param_values"`
	ParamRanges    domain.ParamRanges              `json:"param_ranges"`
	InFlight       bool                            `json:"in_flight"`
	Status         domain.RunStatus                `json:"status"`
	Job            *domain.Job                     `json:"job,omitempty"`
	SingleResult   *domain.SingleResult            `json:"single_result,omitempty"`
	TopResults     []domain.OptimizationResultItem `json:"top_results,omitempty"`
	ResultCount    int                             `json:"result_count"`
	Error          string                          `json:"error,omitempty"`
	CanSubmit      bool                            `json:"can_submit"`
	BlockedReason  string                          `json:"blocked_reason,omitempty"`
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Mode:           s.mode,
		Selection:      s.sel,
		Options:        cloneOptions(s.opts),
		Loading:        s.loading,
		MarketsLoading: s.marketsLoading,
		ParamsLoading:  s.paramsLoading,
		Params:         append([]domain.ParameterDef(nil), s.defs...),
		ParamValues:    s.values.Clone(),
		ParamRanges:    s.ranges.Clone(),
		InFlight:       s.inFlight,
		Status:         s.status,
		Job:            s.job.Clone(),
		SingleResult:   s.results.single.Clone(),
		TopResults:     s.results.top(),
		ResultCount:    s.results.count(),
		Error:          s.errMsg,
	}
	if err := s.canSubmitLocked(); err != nil {
		st.BlockedReason = err.Error()
	} else {
		st.CanSubmit = true
	}
	return st
}

// Mode returns the current submission mode.
func (s *Session) Mode() domain.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Selection returns the current selections.
func (s *Session) Selection() domain.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Options returns the fetched option lists.
func (s *Session) Options() domain.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOptions(s.opts)
}

// Error returns the user-visible error message, or "".
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMsg
}

// Changes returns a channel that is closed on the next state change.
func (s *Session) Changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitIdle blocks until no option or parameter fetch is outstanding.
func (s *Session) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.disposed {
			s.mu.Unlock()
			return domain.ErrSessionDisposed
		}
		if !s.loading && !s.marketsLoading && !s.paramsLoading {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// notifyLocked wakes every Changes waiter.
func (s *Session) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// enqueueLocked schedules a side effect outside the mutex. Side effects run
// in the order they were queued.
func (s *Session) enqueueLocked(fn func()) {
	s.outbox.push(fn)
}

// publishLocked queues an event for delivery. Publish failures are logged only.
func (s *Session) publishLocked(routingKey string, event any) {
	s.enqueueLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
			s.logger.Warn("Failed to publish event",
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
		}
	})
}

// checkEditableLocked guards every selection change.
func (s *Session) checkEditableLocked() error {
	if s.disposed {
		return domain.ErrSessionDisposed
	}
	if s.inFlight {
		return domain.ErrSubmissionInFlight
	}
	return nil
}

// goLocked starts fn on a tracked goroutine so Dispose can wait for it.
func (s *Session) goLocked(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func cloneOptions(o domain.Options) domain.Options {
	return domain.Options{
		Exchanges:  append([]string(nil), o.Exchanges...),
		Timeframes: append([]string(nil), o.Timeframes...),
		Strategies: append([]string(nil), o.Strategies...),
		Markets:    append([]string(nil), o.Markets...),
	}
}

// errorText returns err's message, or fallback when it carries none.
func errorText(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	if errors.Is(err, context.Canceled) {
		return fallback
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}
