package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/backtestlab/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{
		BaseURL:         srv.URL + "/api",
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		RetryMaxElapsed: 5 * time.Second,
	}, zaptest.NewLogger(t))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Markets(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/exchange/markets", r.URL.Path)
		assert.Equal(t, "binance", r.URL.Query().Get("exchange_name"))
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		writeJSON(w, http.StatusOK, []string{"ETH/USDT", "BTC/USDT"})
	}))

	markets, err := client.Markets(context.Background(), "binance")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT"}, markets)
}

func TestClient_StrategyParams_EscapesName(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/strategies/params/Rsi%20Strategy", r.URL.EscapedPath())
		writeJSON(w, http.StatusOK, []map[string]any{
			{"name": "rsi_period", "type": "integer", "default": 14, "label": "RSI Period"},
			{"name": "odd", "type": "decimal", "default": 1.5, "label": "Odd"},
		})
	}))

	defs, err := client.StrategyParams(context.Background(), "Rsi Strategy")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, domain.ParamTypeInteger, defs[0].Type)
	assert.Equal(t, domain.ParamTypeFloat, defs[1].Type, "unknown types fall back to float")
}

func TestClient_ErrorDetail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "No data for symbol"})
	}))

	_, err := client.RunBacktest(context.Background(), &domain.BacktestRequest{})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "No data for symbol", apiErr.Error())
}

func TestClient_ErrorFallback(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("<html>bad gateway</html>"))
	}))

	_, err := client.StartOptimization(context.Background(), &domain.OptimizationRequest{})
	require.Error(t, err)
	assert.Equal(t, "Failed to start optimization job", err.Error())
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestClient_BotErrorsUseMessage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "error", "message": "Bot is already running."})
	}))

	_, err := client.StartBot(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Bot is already running.", err.Error())
}

func TestClient_RetriesOptionLookups(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, []string{"binance"})
	}))

	exchanges, err := client.SupportedExchanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"binance"}, exchanges)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Strategy not found"})
	}))

	_, err := client.StrategyParams(context.Background(), "Missing")
	require.Error(t, err)
	assert.Equal(t, "Strategy not found", err.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DoesNotRetryJobStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.OptimizationStatus(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_OptimizationStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/optimizer/status/job-1", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": "job-1", "status": "running", "progress": 30, "total_runs": 20,
		})
	}))

	job, err := client.OptimizationStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, 20, job.Progress, "progress is clamped to total runs")
}

func TestClient_OptimizationStatusWithoutTotal(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"job_id": "j1", "status": "running", "progress": 7, "total_runs": 0})
	}))

	job, err := client.OptimizationStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, 0, job.TotalRuns)
	assert.Equal(t, 0, job.Progress)
}

func TestClient_OptimizationStatusUnknown(t *testing.T) {
	bodies := map[string]string{
		"cancelled": `{"job_id":"j1","status":"cancelled","progress":0,"total_runs":3}`,
		"null":      `null`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, body)
			}))

			job, err := client.OptimizationStatus(context.Background(), "j1")
			require.NoError(t, err)
			assert.False(t, job.Status.IsActive())
			assert.NotEqual(t, domain.JobStatusPending, job.Status)
		})
	}
}

func TestClient_OptimizationResults(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": "job-1", "status": "completed", "progress": 2, "total_runs": 2,
			"results": []map[string]any{
				{"params": map[string]any{"rsi_period": 14}, "total_return": 12.5, "win_rate": 60, "max_drawdown": 5},
				{"params": map[string]any{"rsi_period": 16}, "total_return": 8.1, "win_rate": 55, "max_drawdown": 7},
			},
		})
	}))

	set, err := client.OptimizationResults(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, set.Status)
	require.Len(t, set.Results, 2)
	assert.Equal(t, 12.5, set.Results[0].TotalReturn)
	assert.Equal(t, float64(14), set.Results[0].Params["rsi_period"])
}

func TestClient_RunBacktest_Body(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{
			"exchange_name":"binance","strategy_name":"Rsi","symbol":"BTC/USDT","timeframe":"1d",
			"start_date":"2023-01-01","end_date":"2023-06-01",
			"strategy_params":{"rsi_period":14,"threshold":0.5}
		}`, string(raw))
		writeJSON(w, http.StatusOK, map[string]any{"total_return": 10, "sharpe_ratio": 1.2})
	}))

	result, err := client.RunBacktest(context.Background(), &domain.BacktestRequest{
		ExchangeName: "binance",
		StrategyName: "Rsi",
		Symbol:       "BTC/USDT",
		Timeframe:    "1d",
		StartDate:    "2023-01-01",
		EndDate:      "2023-06-01",
		StrategyParams: domain.ParamValues{
			"rsi_period": domain.IntValue(14),
			"threshold":  domain.FloatValue(0.5),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, result.TotalReturn)
	assert.Equal(t, 1.2, result.SharpeRatio)
}

func TestClient_UploadStrategy(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		assert.Equal(t, "my_strategy.py", header.Filename)
		assert.Equal(t, "class X: pass", string(content))
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Uploaded"})
	}))

	resp, err := client.UploadStrategy(context.Background(), "/tmp/my_strategy.py", strings.NewReader("class X: pass"))
	require.NoError(t, err)
	assert.Equal(t, "Uploaded", resp.Message)

	_, err = client.UploadStrategy(context.Background(), "notes.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, domain.ErrInvalidStrategyFile)
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, MaxRetries: 0}, zaptest.NewLogger(t))
	_, err := client.Strategies(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "Failed to fetch available strategies"))
}
