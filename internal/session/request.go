package session

import (
	"fmt"
	"strings"

	"github.com/saltfish/backtestlab/internal/domain"
)

// CanSubmit returns nil when a submission would be accepted, or the reason it
// is currently disabled.
func (s *Session) CanSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSubmitLocked()
}

func (s *Session) canSubmitLocked() error {
	if s.disposed {
		return domain.ErrSessionDisposed
	}
	if s.inFlight {
		return domain.ErrSubmissionInFlight
	}
	if s.loading || s.marketsLoading || s.paramsLoading {
		return fmt.Errorf("%w: options are still loading", domain.ErrNotReady)
	}
	if s.loadFailed {
		return fmt.Errorf("%w: options failed to load", domain.ErrNotReady)
	}
	if s.paramsFailed {
		return fmt.Errorf("%w: strategy parameters failed to load", domain.ErrNotReady)
	}
	if missing := s.sel.Missing(); len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrIncompleteSelection, strings.Join(missing, ", "))
	}
	return nil
}

// BacktestRequest builds the single-mode payload from the current state.
func (s *Session) BacktestRequest() *domain.BacktestRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backtestRequestLocked()
}

// OptimizationRequest builds the sweep payload from the current state.
func (s *Session) OptimizationRequest() *domain.OptimizationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimizationRequestLocked()
}

func (s *Session) backtestRequestLocked() *domain.BacktestRequest {
	return &domain.BacktestRequest{
		ExchangeName:   s.sel.Exchange,
		StrategyName:   s.sel.Strategy,
		Symbol:         s.sel.Market,
		Timeframe:      s.sel.Timeframe,
		StartDate:      s.sel.StartDate,
		EndDate:        s.sel.EndDate,
		StrategyParams: s.values.Clone(),
	}
}

func (s *Session) optimizationRequestLocked() *domain.OptimizationRequest {
	specs := make(map[string]domain.ParamRangeSpec, len(s.ranges))
	for name, r := range s.ranges {
		typ := domain.ParamTypeFloat
		if def, ok := s.paramDefLocked(name); ok && def.Type.IsValid() {
			typ = def.Type
		}
		specs[name] = domain.ParamRangeSpec{
			Type:  typ,
			Start: r.Start,
			End:   r.End,
			Step:  r.Step,
		}
	}
	return &domain.OptimizationRequest{
		ExchangeName:        s.sel.Exchange,
		StrategyName:        s.sel.Strategy,
		Symbol:              s.sel.Market,
		Timeframe:           s.sel.Timeframe,
		StartDate:           s.sel.StartDate,
		EndDate:             s.sel.EndDate,
		StrategyParamsRange: specs,
	}
}
