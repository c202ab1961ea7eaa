package session

import (
	"context"
	"fmt"
	"io"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/saltfish/backtestlab/internal/domain"
)

// Load fetches the exchange, timeframe and strategy lists in parallel and
// applies the default selections. Dependent market and parameter fetches are
// started in the background; use WaitIdle to wait for them.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkEditableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.loadGen++
	gen := s.loadGen
	s.loading = true
	s.loadFailed = false
	s.errMsg = ""
	s.notifyLocked()
	s.mu.Unlock()

	var exchanges, timeframes, strategies []string
	p := pool.New().WithErrors().WithContext(ctx).WithFirstError()
	p.Go(func(ctx context.Context) error {
		var err error
		exchanges, err = s.backend.SupportedExchanges(ctx)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		timeframes, err = s.backend.SupportedTimeframes(ctx)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		strategies, err = s.backend.Strategies(ctx)
		return err
	})
	err := p.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return domain.ErrSessionDisposed
	}
	if gen != s.loadGen {
		return nil
	}
	s.loading = false
	s.notifyLocked()

	if err != nil {
		s.loadFailed = true
		s.clearSelectionsLocked()
		s.errMsg = fmt.Sprintf("Failed to load page data: %s. Please ensure the backend is running.", errorText(err, "unknown error"))
		s.logger.Error("Failed to load options", zap.Error(err))
		return fmt.Errorf("load options: %w", err)
	}

	s.opts.Exchanges = exchanges
	s.opts.Timeframes = timeframes
	s.opts.Strategies = strategies

	s.sel.Timeframe = pickDefault(timeframes, s.cfg.DefaultTimeframe)
	s.sel.Exchange = ""
	if len(exchanges) > 0 {
		s.selectExchangeLocked(exchanges[0])
	} else {
		s.sel.Market = ""
		s.opts.Markets = nil
	}
	s.sel.Strategy = ""
	if len(strategies) > 0 {
		s.selectStrategyLocked(strategies[0])
	} else {
		s.clearParamsLocked()
	}

	s.logger.Info("Options loaded",
		zap.Int("exchanges", len(exchanges)),
		zap.Int("timeframes", len(timeframes)),
		zap.Int("strategies", len(strategies)),
	)
	return nil
}

// RefreshStrategies re-fetches the strategy list. When selectFirst is set the
// first strategy becomes the selection and its parameters are fetched.
func (s *Session) RefreshStrategies(ctx context.Context, selectFirst bool) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return domain.ErrSessionDisposed
	}
	if selectFirst && s.inFlight {
		s.mu.Unlock()
		return domain.ErrSubmissionInFlight
	}
	s.mu.Unlock()

	strategies, err := s.backend.Strategies(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return domain.ErrSessionDisposed
	}
	if err != nil {
		s.errMsg = "Failed to load strategies."
		s.notifyLocked()
		return fmt.Errorf("refresh strategies: %w", err)
	}

	s.opts.Strategies = strategies
	if selectFirst && len(strategies) > 0 && !s.inFlight {
		s.selectStrategyLocked(strategies[0])
	}
	s.notifyLocked()
	return nil
}

// UploadStrategy uploads a .py strategy file and, on success, refreshes the
// strategy list selecting the first entry.
func (s *Session) UploadStrategy(ctx context.Context, filename string, content io.Reader) (*domain.ResponseMessage, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, domain.ErrSessionDisposed
	}
	s.mu.Unlock()

	resp, err := s.backend.UploadStrategy(ctx, filename, content)
	if err != nil {
		return nil, err
	}
	if err := s.RefreshStrategies(ctx, true); err != nil {
		s.logger.Warn("Strategy uploaded but refresh failed", zap.Error(err))
	}
	return resp, nil
}

// SetExchange selects an exchange and refetches its markets.
func (s *Session) SetExchange(exchange string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if !domain.Contains(s.opts.Exchanges, exchange) {
		return domain.NewFieldError("exchange", fmt.Sprintf("%q is not offered", exchange))
	}
	if exchange == s.sel.Exchange {
		return nil
	}
	s.selectExchangeLocked(exchange)
	return nil
}

// SetMarket selects a market of the current exchange.
func (s *Session) SetMarket(market string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if !domain.Contains(s.opts.Markets, market) {
		return domain.NewFieldError("market", fmt.Sprintf("%q is not offered by %s", market, s.sel.Exchange))
	}
	s.sel.Market = market
	s.notifyLocked()
	return nil
}

// SetTimeframe selects a candle timeframe.
func (s *Session) SetTimeframe(timeframe string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if !domain.Contains(s.opts.Timeframes, timeframe) {
		return domain.NewFieldError("timeframe", fmt.Sprintf("%q is not supported", timeframe))
	}
	s.sel.Timeframe = timeframe
	s.notifyLocked()
	return nil
}

// SetStrategy selects a strategy and refetches its parameter schema.
func (s *Session) SetStrategy(strategy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if !domain.Contains(s.opts.Strategies, strategy) {
		return domain.NewFieldError("strategy", fmt.Sprintf("%q is not available", strategy))
	}
	if strategy == s.sel.Strategy && !s.paramsFailed {
		return nil
	}
	s.selectStrategyLocked(strategy)
	return nil
}

// SetDates sets the backtest window. Dates are passed to the execution
// service verbatim.
func (s *Session) SetDates(start, end string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkEditableLocked(); err != nil {
		return err
	}
	if start == "" {
		return domain.NewFieldError("start_date", "is required")
	}
	if end == "" {
		return domain.NewFieldError("end_date", "is required")
	}
	s.sel.StartDate = start
	s.sel.EndDate = end
	s.notifyLocked()
	return nil
}

// selectExchangeLocked sets the exchange, clears the market list and starts
// the market fetch. Responses for an older exchange are dropped.
func (s *Session) selectExchangeLocked(exchange string) {
	s.sel.Exchange = exchange
	s.sel.Market = ""
	s.opts.Markets = nil
	s.marketsGen++
	gen := s.marketsGen
	s.marketsLoading = true
	s.notifyLocked()

	s.goLocked(func() {
		markets, err := s.backend.Markets(s.ctx, exchange)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.disposed || gen != s.marketsGen {
			return
		}
		s.marketsLoading = false
		s.notifyLocked()

		if err != nil {
			s.errMsg = "Failed to load markets: " + errorText(err, "unknown error")
			s.logger.Warn("Failed to load markets", zap.String("exchange", exchange), zap.Error(err))
			return
		}
		s.opts.Markets = markets
		s.sel.Market = pickDefault(markets, s.cfg.DefaultMarket)
	})
}

// selectStrategyLocked sets the strategy, clears the parameter model and
// starts the schema fetch. Responses for an older strategy are dropped.
func (s *Session) selectStrategyLocked(strategy string) {
	s.sel.Strategy = strategy
	s.clearParamsLocked()
	s.paramsGen++
	gen := s.paramsGen
	s.paramsLoading = true
	s.paramsFailed = false
	s.notifyLocked()

	s.goLocked(func() {
		defs, err := s.backend.StrategyParams(s.ctx, strategy)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.disposed || gen != s.paramsGen {
			return
		}
		s.paramsLoading = false
		s.notifyLocked()

		if err != nil {
			s.paramsFailed = true
			s.errMsg = "Failed to load params: " + errorText(err, "unknown error")
			s.logger.Warn("Failed to load strategy params", zap.String("strategy", strategy), zap.Error(err))
			return
		}
		s.replaceParamsLocked(defs)
	})
}

// clearSelectionsLocked empties every fetched selection after a failed load.
func (s *Session) clearSelectionsLocked() {
	s.marketsGen++
	s.paramsGen++
	s.marketsLoading = false
	s.paramsLoading = false
	s.opts = domain.Options{}
	s.sel.Exchange = ""
	s.sel.Market = ""
	s.sel.Timeframe = ""
	s.sel.Strategy = ""
	s.clearParamsLocked()
}

// pickDefault returns preferred if it is offered, else the first entry, else "".
func pickDefault(list []string, preferred string) string {
	if preferred != "" && domain.Contains(list, preferred) {
		return preferred
	}
	if len(list) > 0 {
		return list[0]
	}
	return ""
}
