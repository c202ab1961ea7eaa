package domain

// BacktestRequest is the single-mode request body for POST /backtest/run.
type BacktestRequest struct {
	ExchangeName   string      `json:"exchange_name"`
	StrategyName   string      `json:"strategy_name"`
	Symbol         string      `json:"symbol"`
	Timeframe      string      `json:"timeframe"`
	StartDate      string      `json:"start_date"`
	EndDate        string      `json:"end_date"`
	StrategyParams ParamValues `json:"strategy_params"`
}

// SingleResult is the outcome of one backtest evaluation.
type SingleResult struct {
	TotalReturn  float64        `json:"total_return"`
	WinRate      float64        `json:"win_rate"`
	MaxDrawdown  float64        `json:"max_drawdown"`
	SharpeRatio  float64        `json:"sharpe_ratio"`
	History      []HistoryPoint `json:"history"`
	PriceHistory []Candle       `json:"price_history"`
	TradeLogs    []TradeLog     `json:"trade_logs"`
}

// Clone returns a deep copy of the result.
func (r *SingleResult) Clone() *SingleResult {
	if r == nil {
		return nil
	}
	out := *r
	out.History = append([]HistoryPoint(nil), r.History...)
	out.PriceHistory = append([]Candle(nil), r.PriceHistory...)
	out.TradeLogs = append([]TradeLog(nil), r.TradeLogs...)
	return &out
}

// HistoryPoint is one sample of the portfolio value series.
type HistoryPoint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Candle is one OHLC bar of the price series.
type Candle struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
}

// TradeLog marks one simulated order on the price series.
type TradeLog struct {
	Timestamp string  `json:"timestamp"`
	OrderType string  `json:"order_type"`
	Price     float64 `json:"price"`
}
