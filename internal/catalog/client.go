// Package catalog is the client for the upstream style attribute API. It
// fills the brand and title of styles created without them.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/internal/observability"
	"github.com/pitabwire/copydesk/model"
)

const maxResponseBytes = 1 << 20

// Client looks up style attributes with retries behind a circuit breaker.
// Requests carry an OAuth2 client-credentials token when auth is configured.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker
	retry   config.RetryConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records request, retry and breaker metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client. Auth configuration is
// ignored when this option is used.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient builds a catalog client from configuration. ctx bounds token
// refreshes for the lifetime of the client.
func NewClient(ctx context.Context, cfg config.CatalogConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("catalog: invalid base_url: %w", err)
	}

	cb := cfg.CircuitBreaker
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		breaker: NewBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout),
		retry:   cfg.Retry,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = newHTTPClient(ctx, cfg)
	}
	c.breaker.onChange = func(s BreakerState) {
		c.metrics.SetCatalogCircuitBreakerState(float64(s))
	}
	return c, nil
}

func newHTTPClient(ctx context.Context, cfg config.CatalogConfig) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	if cfg.Auth.TokenURL == "" {
		return base
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: os.Getenv(cfg.Auth.ClientSecretEnv),
		TokenURL:     cfg.Auth.TokenURL,
		Scopes:       cfg.Auth.Scopes,
	}
	hc := cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	hc.Timeout = timeout
	return hc
}

// LookupStyle fetches the attributes of one style. A style unknown to the
// catalog is NOT_FOUND; any other failure is UPSTREAM_ERROR.
func (c *Client) LookupStyle(ctx context.Context, styleID string) (model.StyleAttributes, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.lookup_style",
		observability.AttrStyleID.String(styleID),
	)
	attrs, err := c.lookupWithRetry(ctx, styleID)
	observability.EndSpanWithError(span, err)
	return attrs, err
}

// HealthCheck fails while the circuit breaker is open.
func (c *Client) HealthCheck(context.Context) error {
	if c.breaker.State() == BreakerOpen {
		return ErrBreakerOpen
	}
	return nil
}

func (c *Client) lookupWithRetry(ctx context.Context, styleID string) (model.StyleAttributes, error) {
	reqURL := c.baseURL + "/styles/" + url.PathEscape(styleID)
	maxAttempts := c.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.metrics.RecordCatalogRetry()
			select {
			case <-ctx.Done():
				return model.StyleAttributes{}, model.NewUpstreamError("lookup_style", ctx.Err())
			case <-time.After(backoff(c.retry, attempt)):
			}
		}

		status, body, err := c.executeOnce(ctx, reqURL)
		if err != nil {
			if errors.Is(err, ErrBreakerOpen) || ctx.Err() != nil {
				return model.StyleAttributes{}, model.NewUpstreamError("lookup_style", err)
			}
			lastErr = err
			c.logger.Debug("catalog: retrying after error",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Error(err),
			)
			continue
		}

		if isRetryableStatus(status) {
			lastErr = fmt.Errorf("catalog returned status %d", status)
			c.logger.Debug("catalog: retrying after status",
				zap.Int("attempt", attempt+1),
				zap.Int("max", maxAttempts),
				zap.Int("status", status),
			)
			continue
		}

		return decodeStyle(styleID, status, body)
	}

	return model.StyleAttributes{}, model.NewUpstreamError("lookup_style", lastErr)
}

func (c *Client) executeOnce(ctx context.Context, reqURL string) (int, []byte, error) {
	if err := c.breaker.Allow(); err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	observability.InjectTraceHeaders(ctx, req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		c.metrics.RecordCatalogRequest(0, time.Since(start))
		return 0, nil, fmt.Errorf("catalog: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordCatalogRequest(resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.RecordFailure()
		return 0, nil, fmt.Errorf("catalog: read response: %w", err)
	}

	// 4xx answers are not infrastructure failures.
	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return resp.StatusCode, body, nil
}

func decodeStyle(styleID string, status int, body []byte) (model.StyleAttributes, error) {
	switch {
	case status == http.StatusNotFound:
		return model.StyleAttributes{}, model.NewNotFoundError(
			fmt.Sprintf("style %q not found in catalog", styleID))
	case status < 200 || status >= 300:
		return model.StyleAttributes{}, model.NewUpstreamError("lookup_style",
			fmt.Errorf("unexpected status %d", status))
	}

	var attrs model.StyleAttributes
	if err := json.Unmarshal(body, &attrs); err != nil {
		return model.StyleAttributes{}, model.NewUpstreamError("lookup_style",
			fmt.Errorf("decode style: %w", err))
	}
	if attrs.StyleID == "" {
		attrs.StyleID = styleID
	}
	return attrs, nil
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 100 * time.Millisecond
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}

	delay := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
		if delay > cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	return delay
}
