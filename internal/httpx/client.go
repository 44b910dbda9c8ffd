package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/clinicware/atende/internal/metrics"
	"github.com/clinicware/atende/internal/resilience"
)

// Default retry policy: three attempts with exponential backoff bounded between
// two and ten seconds, retrying only transient failures.
const (
	DefaultMaxAttempts    = 3
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Opts holds configuration for a resilient client.
type Opts struct {
	BaseURL          string
	Headers          map[string]string
	Timeout          time.Duration
	FailureThreshold int
	RecoveryTimeout  time.Duration
	RateLimit        int
	RateWindow       time.Duration
	MaxAttempts      int
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	Metrics          metrics.Sink
	HTTPClient       *http.Client
}

// Option configures a resilient client.
type Option func(*Opts)

// WithBaseURL sets the base URL every endpoint path is resolved against.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimRight(u, "/") }
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(o *Opts) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
	}
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithBreaker configures the circuit breaker thresholds.
func WithBreaker(failureThreshold int, recoveryTimeout time.Duration) Option {
	return func(o *Opts) {
		o.FailureThreshold = failureThreshold
		o.RecoveryTimeout = recoveryTimeout
	}
}

// WithRateLimit enables sliding-window admission at limit calls per window.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(o *Opts) {
		o.RateLimit = limit
		o.RateWindow = window
	}
}

// WithRetry configures the bounded retry policy for transient failures.
func WithRetry(maxAttempts int, initial, max time.Duration) Option {
	return func(o *Opts) {
		o.MaxAttempts = maxAttempts
		o.BackoffInitial = initial
		o.BackoffMax = max
	}
}

// WithMetrics sets the metrics sink outcomes are reported to.
func WithMetrics(sink metrics.Sink) Option {
	return func(o *Opts) { o.Metrics = sink }
}

// WithHTTPClient overrides the underlying HTTP client. Mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = hc }
}

// Client is the single choke point for calls to one remote dependency. It owns
// that dependency's circuit breaker and (optionally) its rate limiter.
type Client struct {
	name           string
	baseURL        string
	headers        map[string]string
	httpClient     *http.Client
	breaker        *resilience.CircuitBreaker
	limiter        *resilience.SlidingWindowLimiter
	maxAttempts    int
	backoffInitial time.Duration
	backoffMax     time.Duration
	sink           metrics.Sink
}

// NewClient creates a resilient client named for its remote dependency. The
// name prefixes every metric the client reports.
func NewClient(name string, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL must be provided for client %s", name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = DefaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = DefaultBackoffMax
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NopSink{}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *resilience.SlidingWindowLimiter
	if cfg.RateLimit > 0 {
		limiter = resilience.NewSlidingWindowLimiter(name, cfg.RateLimit, cfg.RateWindow)
	}

	slog.Debug("Resilient client created", "name", name,
		"base_url_set", cfg.BaseURL != "",
		"failure_threshold", cfg.FailureThreshold,
		"rate_limit", cfg.RateLimit,
		"max_attempts", cfg.MaxAttempts)

	return &Client{
		name:           name,
		baseURL:        cfg.BaseURL,
		headers:        cfg.Headers,
		httpClient:     httpClient,
		breaker:        resilience.NewCircuitBreaker(name, cfg.FailureThreshold, cfg.RecoveryTimeout),
		limiter:        limiter,
		maxAttempts:    cfg.MaxAttempts,
		backoffInitial: cfg.BackoffInitial,
		backoffMax:     cfg.BackoffMax,
		sink:           cfg.Metrics,
	}, nil
}

// GetJSON performs a GET and decodes the JSON response into out (which may be nil).
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, query, nil, out)
}

// PostJSON performs a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, nil, body, out)
}

// PutJSON performs a PUT with a JSON body and decodes the response into out.
func (c *Client) PutJSON(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPut, endpoint, nil, body, out)
}

// Breaker exposes the client's circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

// do runs one logical operation: admission, then the guarded retried attempt.
// The rate limiter admits once per logical call; retries happen inside the
// breaker guard, so the breaker observes the outcome of the whole attempt
// sequence rather than individual attempts.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Admit(ctx); err != nil {
			return fmt.Errorf("rate limiter admission: %w", err)
		}
	}

	start := time.Now()
	err := c.breaker.Guard(func() error {
		return c.attemptWithRetry(ctx, method, endpoint, query, body, out)
	})
	c.sink.Record(c.name+"_request_seconds", time.Since(start).Seconds())

	if err != nil {
		c.sink.Increment(c.name + "_" + metricSuffix(err))
		return err
	}
	c.sink.Increment(c.name + "_requests_success")
	return nil
}

// attemptWithRetry retries the HTTP attempt on transient failures only, with
// exponential backoff bounded by the configured interval.
func (c *Client) attemptWithRetry(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.backoffInitial
	bo.MaxInterval = c.backoffMax
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.attempt(ctx, method, endpoint, query, body, out)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			slog.Warn("Transient failure, will retry", "name", c.name,
				"endpoint", endpoint, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

// attempt performs a single HTTP round trip and classifies its outcome.
func (c *Client) attempt(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	u := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request body: %v", ErrValidation, err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrValidation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	slog.Debug("Remote API request", "name", c.name, "method", method, "endpoint", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}

	slog.Debug("Remote API response", "name", c.name,
		"status_code", resp.StatusCode, "response_size", len(data))

	if kind := classifyStatus(resp.StatusCode); kind != nil {
		if errors.Is(kind, ErrServer) || errors.Is(kind, ErrUnknown) {
			slog.Error("Remote API error response", "name", c.name,
				"status_code", resp.StatusCode, "endpoint", endpoint)
		}
		return statusError(kind, resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnknown, err)
		}
	}
	return nil
}
