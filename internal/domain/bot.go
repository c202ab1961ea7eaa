package domain

// BotStatus is the live trading bot state.
type BotStatus struct {
	IsRunning    bool   `json:"is_running"`
	StrategyName string `json:"strategy_name,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
}

// Trade is one executed live trade.
type Trade struct {
	ID        int64   `json:"id"`
	Symbol    string  `json:"symbol"`
	OrderType string  `json:"order_type"`
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

// PerformanceStats summarises live trading performance.
type PerformanceStats struct {
	TotalPnL   float64 `json:"total_pnl"`
	SpotPnL    float64 `json:"spot_pnl"`
	FuturesPnL float64 `json:"futures_pnl"`
	WinRate    float64 `json:"win_rate"`
}

// ResponseMessage is the generic {status, message} acknowledgement.
type ResponseMessage struct {
	Status  string `json:"status,omitempty"`
	Message string `json:"message"`
}
