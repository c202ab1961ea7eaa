package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/saltfish/backtestlab/internal/domain"
)

// SupportedExchanges lists the exchanges the service can trade on.
func (c *Client) SupportedExchanges(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/exchanges/supported",
		retry:    true,
		fallback: "Failed to fetch supported exchanges",
	}, &out)
	return out, err
}

// Markets lists the symbols offered by one exchange.
func (c *Client) Markets(ctx context.Context, exchange string) ([]string, error) {
	var out []string
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/exchange/markets",
		query:    url.Values{"exchange_name": {exchange}},
		retry:    true,
		fallback: "Failed to fetch markets for " + exchange,
	}, &out)
	return out, err
}

// SupportedTimeframes lists the candle timeframes.
func (c *Client) SupportedTimeframes(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/timeframes/supported",
		retry:    true,
		fallback: "Failed to fetch supported timeframes",
	}, &out)
	return out, err
}

// Strategies lists the strategy names available for backtesting.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/strategies/list",
		retry:    true,
		fallback: "Failed to fetch available strategies",
	}, &out)
	return out, err
}

// StrategyParams returns the declared parameter schema of a strategy.
func (c *Client) StrategyParams(ctx context.Context, strategy string) ([]domain.ParameterDef, error) {
	var out []domain.ParameterDef
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/strategies/params/" + url.PathEscape(strategy),
		retry:    true,
		fallback: "Failed to fetch parameters for " + strategy,
	}, &out)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Type = domain.ParamTypeFromString(string(out[i].Type))
	}
	return out, nil
}

// UploadStrategy sends a strategy source file as multipart field "file".
// Only .py files are accepted.
func (c *Client) UploadStrategy(ctx context.Context, filename string, content io.Reader) (*domain.ResponseMessage, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".py") {
		return nil, domain.ErrInvalidStrategyFile
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	var out domain.ResponseMessage
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        "/strategies/upload",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		fallback:    "File upload failed",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// BotStatus returns the live bot state.
func (c *Client) BotStatus(ctx context.Context) (*domain.BotStatus, error) {
	var out domain.BotStatus
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/bot/status",
		retry:    true,
		fallback: "Failed to fetch bot status",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartBot starts the live trading bot.
func (c *Client) StartBot(ctx context.Context) (*domain.ResponseMessage, error) {
	return c.botCommand(ctx, "/bot/start", "Failed to start the bot")
}

// StopBot stops the live trading bot.
func (c *Client) StopBot(ctx context.Context) (*domain.ResponseMessage, error) {
	return c.botCommand(ctx, "/bot/stop", "Failed to stop the bot")
}

func (c *Client) botCommand(ctx context.Context, path, fallback string) (*domain.ResponseMessage, error) {
	var out domain.ResponseMessage
	err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     path,
		fallback: fallback,
		errField: fieldMessage,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Trades returns the live trade history.
func (c *Client) Trades(ctx context.Context) ([]domain.Trade, error) {
	var out []domain.Trade
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/trades",
		retry:    true,
		fallback: "Failed to fetch trade history",
	}, &out)
	return out, err
}

// PerformanceStats returns aggregated live performance.
func (c *Client) PerformanceStats(ctx context.Context) (*domain.PerformanceStats, error) {
	var out domain.PerformanceStats
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/performance-stats",
		retry:    true,
		fallback: "Failed to fetch performance stats",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// RunBacktest runs one synchronous backtest.
func (c *Client) RunBacktest(ctx context.Context, req *domain.BacktestRequest) (*domain.SingleResult, error) {
	body, err := encodeJSON(req)
	if err != nil {
		return nil, err
	}
	var out domain.SingleResult
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        "/backtest/run",
		body:        body,
		contentType: "application/json",
		fallback:    "An unknown error occurred while running the backtest.",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// StartOptimization starts a parameter sweep and returns its job id.
func (c *Client) StartOptimization(ctx context.Context, req *domain.OptimizationRequest) (string, error) {
	body, err := encodeJSON(req)
	if err != nil {
		return "", err
	}
	var out domain.StartJobResponse
	err = c.do(ctx, call{
		method:      http.MethodPost,
		path:        "/optimizer/start",
		body:        body,
		contentType: "application/json",
		fallback:    "Failed to start optimization job",
	}, &out)
	if err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", &APIError{Message: "Failed to start optimization job", Err: fmt.Errorf("empty job id")}
	}
	return out.JobID, nil
}

// OptimizationStatus returns the current state of a sweep job.
func (c *Client) OptimizationStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	var out domain.Job
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/optimizer/status/" + url.PathEscape(jobID),
		fallback: "Failed to fetch job status",
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}

// OptimizationResults returns the final results of a completed sweep job.
func (c *Client) OptimizationResults(ctx context.Context, jobID string) (*domain.OptimizationResultSet, error) {
	var out domain.OptimizationResultSet
	err := c.do(ctx, call{
		method:   http.MethodGet,
		path:     "/optimizer/results/" + url.PathEscape(jobID),
		fallback: "Failed to fetch job results",
	}, &out)
	if err != nil {
		return nil, err
	}
	out.Normalize()
	return &out, nil
}
