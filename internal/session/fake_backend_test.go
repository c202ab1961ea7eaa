package session

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/saltfish/backtestlab/internal/domain"
)

// fakeBackend is a scripted Backend with call counters and optional gates
// that hold a call until the test releases it.
type fakeBackend struct {
	mu sync.Mutex

	exchanges  []string
	timeframes []string
	strategies []string
	markets    map[string][]string
	params     map[string][]domain.ParameterDef

	exchangesErr error
	marketsErr   error
	paramsErr    error
	uploadErr    error

	marketsGate  map[string]chan struct{}
	paramsGate   map[string]chan struct{}
	backtestGate chan struct{}

	backtestResult *domain.SingleResult
	backtestErr    error
	jobID          string
	startErr       error
	statuses       []domain.Job
	statusErr      error
	results        *domain.OptimizationResultSet
	resultsErr     error

	calls        map[string]int
	lastBacktest *domain.BacktestRequest
	lastOptimize *domain.OptimizationRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		exchanges:  []string{"binance", "kraken"},
		timeframes: []string{"1h", "4h", "1d"},
		strategies: []string{"Rsi Strategy", "Sma Crossover"},
		markets: map[string][]string{
			"binance": {"ETH/USDT", "BTC/USDT"},
			"kraken":  {"XBT/EUR", "ETH/EUR"},
		},
		params: map[string][]domain.ParameterDef{
			"Rsi Strategy": {
				{Name: "rsi_period", Type: domain.ParamTypeInteger, Default: float64(14), Label: "RSI Period"},
				{Name: "threshold", Type: domain.ParamTypeFloat, Default: 0.5, Label: "Threshold"},
			},
			"Sma Crossover": {
				{Name: "fast", Type: domain.ParamTypeInteger, Default: float64(10), Label: "Fast"},
				{Name: "slow", Type: domain.ParamTypeInteger, Default: float64(30), Label: "Slow"},
				{Name: "source", Type: domain.ParamTypeString, Default: "close", Label: "Source"},
			},
		},
		marketsGate: map[string]chan struct{}{},
		paramsGate:  map[string]chan struct{}{},
		backtestResult: &domain.SingleResult{
			TotalReturn: 12.5,
			WinRate:     55,
			MaxDrawdown: 8,
			SharpeRatio: 1.4,
			History:     []domain.HistoryPoint{{Name: "2023-01", Value: 10000}},
		},
		jobID: "job-1",
		statuses: []domain.Job{
			{Status: domain.JobStatusPending},
			{Status: domain.JobStatusRunning, Progress: 2, TotalRuns: 4},
			{Status: domain.JobStatusCompleted, Progress: 4, TotalRuns: 4},
		},
		results: &domain.OptimizationResultSet{
			Job: domain.Job{JobID: "job-1", Status: domain.JobStatusCompleted, Progress: 4, TotalRuns: 4},
			Results: []domain.OptimizationResultItem{
				{Params: map[string]any{"rsi_period": 14}, TotalReturn: 20},
				{Params: map[string]any{"rsi_period": 16}, TotalReturn: 15},
			},
		},
		calls: map[string]int{},
	}
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) hit(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeBackend) SupportedExchanges(ctx context.Context) ([]string, error) {
	f.hit("exchanges")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangesErr != nil {
		return nil, f.exchangesErr
	}
	return append([]string(nil), f.exchanges...), nil
}

func (f *fakeBackend) SupportedTimeframes(ctx context.Context) ([]string, error) {
	f.hit("timeframes")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.timeframes...), nil
}

func (f *fakeBackend) Strategies(ctx context.Context) ([]string, error) {
	f.hit("strategies")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.strategies...), nil
}

func (f *fakeBackend) Markets(ctx context.Context, exchange string) ([]string, error) {
	f.hit("markets")
	f.mu.Lock()
	gate := f.marketsGate[exchange]
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marketsErr != nil {
		return nil, f.marketsErr
	}
	return append([]string(nil), f.markets[exchange]...), nil
}

func (f *fakeBackend) StrategyParams(ctx context.Context, strategy string) ([]domain.ParameterDef, error) {
	f.hit("params")
	f.mu.Lock()
	gate := f.paramsGate[strategy]
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paramsErr != nil {
		return nil, f.paramsErr
	}
	return append([]domain.ParameterDef(nil), f.params[strategy]...), nil
}

func (f *fakeBackend) UploadStrategy(ctx context.Context, filename string, content io.Reader) (*domain.ResponseMessage, error) {
	f.hit("upload")
	if _, err := io.ReadAll(content); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	name := "Uploaded " + filename
	f.strategies = append([]string{name}, f.strategies...)
	f.params[name] = []domain.ParameterDef{{Name: "window", Type: domain.ParamTypeInteger, Default: float64(5)}}
	return &domain.ResponseMessage{Status: "success", Message: "uploaded"}, nil
}

func (f *fakeBackend) RunBacktest(ctx context.Context, req *domain.BacktestRequest) (*domain.SingleResult, error) {
	f.hit("backtest")
	f.mu.Lock()
	f.lastBacktest = req
	gate := f.backtestGate
	f.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backtestErr != nil {
		return nil, f.backtestErr
	}
	return f.backtestResult.Clone(), nil
}

func (f *fakeBackend) StartOptimization(ctx context.Context, req *domain.OptimizationRequest) (string, error) {
	f.hit("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOptimize = req
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.jobID, nil
}

func (f *fakeBackend) OptimizationStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	f.hit("status")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if len(f.statuses) == 0 {
		return nil, errors.New("no status scripted")
	}
	idx := f.calls["status"] - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	job := f.statuses[idx]
	job.JobID = jobID
	return &job, nil
}

func (f *fakeBackend) OptimizationResults(ctx context.Context, jobID string) (*domain.OptimizationResultSet, error) {
	f.hit("results")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resultsErr != nil {
		return nil, f.resultsErr
	}
	return f.results.Clone(), nil
}

var _ Backend = (*fakeBackend)(nil)
