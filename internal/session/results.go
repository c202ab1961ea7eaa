package session

import "github.com/saltfish/backtestlab/internal/domain"

// resultStore holds the outcome of the current workflow: a single result, an
// optimization result set, or nothing. Each job writes it at most once.
type resultStore struct {
	single       *domain.SingleResult
	optimization *domain.OptimizationResultSet
	written      bool
	limit        int
}

// reset clears both kinds of result together.
func (r *resultStore) reset() {
	r.single = nil
	r.optimization = nil
	r.written = false
}

func (r *resultStore) setSingle(res *domain.SingleResult) error {
	if r.written {
		return domain.ErrResultAlreadySet
	}
	r.single = res.Clone()
	r.written = true
	return nil
}

func (r *resultStore) setOptimization(set *domain.OptimizationResultSet) error {
	if r.written {
		return domain.ErrResultAlreadySet
	}
	r.optimization = set.Clone()
	r.written = true
	return nil
}

// top returns the leading optimization entries capped at the display limit.
func (r *resultStore) top() []domain.OptimizationResultItem {
	if r.optimization == nil {
		return nil
	}
	return r.optimization.Top(r.limit)
}

func (r *resultStore) count() int {
	if r.optimization == nil {
		return 0
	}
	return len(r.optimization.Results)
}

// SingleResult returns a copy of the single backtest result, or nil.
func (s *Session) SingleResult() *domain.SingleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.single.Clone()
}

// OptimizationResults returns a copy of the full optimization result set, or nil.
func (s *Session) OptimizationResults() *domain.OptimizationResultSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.optimization.Clone()
}

// TopResults returns the optimization entries to display, in the order the
// execution service returned them.
func (s *Session) TopResults() []domain.OptimizationResultItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results.top()
}
