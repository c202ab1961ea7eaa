// Package backend is the HTTP client of the strategy execution service.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the execution service address used when none is configured.
	DefaultBaseURL = "http://localhost:8000/api"

	requestIDHeader = "X-Request-ID"
	maxErrorBody    = 64 << 10
)

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryMaxElapsed   time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client calls the execution service. Idempotent option lookups are retried
// with exponential backoff; submissions and job queries are sent once.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	limiter         *rate.Limiter
	maxRetries      int
	retryMaxElapsed time.Duration
	logger          *zap.Logger
}

// NewClient creates a new execution service client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryMaxElapsed == 0 {
		opts.RetryMaxElapsed = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		if b := int(opts.RequestsPerSecond); b > burst {
			burst = b
		}
	}

	return &Client{
		baseURL:         strings.TrimRight(opts.BaseURL, "/"),
		httpClient:      httpClient,
		limiter:         rate.NewLimiter(limit, burst),
		maxRetries:      opts.MaxRetries,
		retryMaxElapsed: opts.RetryMaxElapsed,
		logger:          logger.With(zap.String("component", "backend")),
	}
}

// BaseURL returns the configured service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// call describes one endpoint invocation.
type call struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	retry       bool
	fallback    string
	errField    errorField
}

// do performs the call and decodes a successful body into out (if non-nil).
func (c *Client) do(ctx context.Context, cl call, out any) error {
	requestID := uuid.New().String()
	logger := c.logger.With(
		zap.String("method", cl.method),
		zap.String("path", cl.path),
		zap.String("request_id", requestID),
	)

	var body []byte
	operation := func() error {
		var err error
		body, err = c.attempt(ctx, cl, requestID)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if cl.retry && c.maxRetries > 0 {
		strategy := backoff.NewExponentialBackOff()
		strategy.MaxElapsedTime = c.retryMaxElapsed
		b := backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(c.maxRetries)), ctx)
		err = backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
			logger.Warn("Retrying request", zap.Error(err), zap.Duration("wait", wait))
		})
	} else {
		err = operation()
	}
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		logger.Debug("Request failed", zap.Error(err))
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Message: cl.fallback, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// attempt sends a single request and returns the raw success body.
func (c *Client) attempt(ctx context.Context, cl call, requestID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &APIError{Message: cl.fallback, Err: err}
	}

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}

	var reader io.Reader
	if cl.body != nil {
		reader = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, reader)
	if err != nil {
		return nil, &APIError{Message: cl.fallback, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: cl.fallback, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw, cl.errField, cl.fallback),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: cl.fallback, Err: err}
	}
	return data, nil
}

// errorMessage returns the service-provided error text, or fallback.
func errorMessage(raw []byte, field errorField, fallback string) string {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return fallback
	}
	if msg := eb.message(field); msg != "" {
		return msg
	}
	return fallback
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}
