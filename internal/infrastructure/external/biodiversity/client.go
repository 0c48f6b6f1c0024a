package biodiversity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oceanvision/marine-catalog/pkg/circuitbreaker"
	"github.com/oceanvision/marine-catalog/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for one upstream API client.
type ClientConfig struct {
	// Name identifies the upstream in logs and circuit breaker names
	Name string

	// BaseURL is the API base URL, without trailing slash
	BaseURL string

	// UserAgent is sent with every request
	UserAgent string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// MaxAttempts per request, including the first one
	MaxAttempts int

	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int

	// BreakerTimeout is how long the circuit stays open
	BreakerTimeout time.Duration

	// Concurrency limits how many taxon terms are queried at once
	Concurrency int

	// Retrier overrides the retrier built from MaxAttempts
	Retrier *retry.Retrier

	// HTTPClient overrides the default HTTP client
	HTTPClient *http.Client

	// OnStateChange is called when the circuit breaker changes state
	OnStateChange func(source string, from, to circuitbreaker.State)

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables per-request debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(name, baseURL string) ClientConfig {
	return ClientConfig{
		Name:              name,
		BaseURL:           baseURL,
		UserAgent:         "oceanvision-marine-catalog/1.0",
		Timeout:           20 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
		MaxAttempts:       3,
		FailureThreshold:  5,
		BreakerTimeout:    time.Minute,
		Concurrency:       2,
	}
}

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// ErrNoMatch is returned when the upstream knows nothing about a taxon
// (HTTP 204, 404 or an empty body). It is not a failure.
var ErrNoMatch = errors.New("biodiversity: no matching taxon")

// StatusError is an unexpected HTTP status from the upstream.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Source, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Source, e.StatusCode, e.Body)
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client performs JSON GET requests against one upstream with rate limiting,
// circuit breaking and retries.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
}

// NewClient creates a new upstream API client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	logger := config.Logger.With("source", config.Name)

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	retrier := config.Retrier
	if retrier == nil {
		retrier = retry.SourceRetrier(config.MaxAttempts)
	}

	onStateChange := func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if config.OnStateChange != nil {
			config.OnStateChange(config.Name, from, to)
		}
	}

	return &Client{
		config:      config,
		httpClient:  httpClient,
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker:     circuitbreaker.SourceBreaker(config.Name, config.FailureThreshold, config.BreakerTimeout, onStateChange, isBreakerFailure),
		retrier:     retrier,
	}
}

// Name returns the upstream name.
func (c *Client) Name() string {
	return c.config.Name
}

// isBreakerFailure keeps "no match" answers and caller cancellations from
// opening the circuit.
func isBreakerFailure(err error) bool {
	return !errors.Is(err, ErrNoMatch) && !errors.Is(err, context.Canceled)
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getJSON performs a GET request and decodes the JSON body into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
			}
			return c.doSingleRequest(ctx, path, query, result)
		})
	})
}

// doSingleRequest performs a single HTTP request and classifies its outcome
// for the retrier.
func (c *Client) doSingleRequest(ctx context.Context, path string, query url.Values, result any) error {
	fullURL := c.config.BaseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if c.config.Debug {
		c.logger.Debug("upstream request", "path", path, "query", query.Encode())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return retry.Permanent(ErrNoMatch)

	case resp.StatusCode == http.StatusTooManyRequests:
		c.rateLimiter.RecordRateLimitHit()
		wait := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return retry.Retryable(&RateLimitError{
			Wait:    wait,
			Message: fmt.Sprintf("%s: rate limited by upstream, retry after %s", c.config.Name, wait),
		})

	case resp.StatusCode >= http.StatusInternalServerError:
		return retry.Retryable(c.statusError(resp.StatusCode, body))

	case resp.StatusCode >= http.StatusBadRequest:
		return retry.Permanent(c.statusError(resp.StatusCode, body))
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return retry.Permanent(ErrNoMatch)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return retry.Permanent(fmt.Errorf("%s: decode response: %w", c.config.Name, err))
	}

	return nil
}

func (c *Client) statusError(code int, body []byte) *StatusError {
	const maxSnippet = 200
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxSnippet {
		snippet = snippet[:maxSnippet]
	}
	return &StatusError{Source: c.config.Name, StatusCode: code, Body: snippet}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Missing or malformed values fall back to 30 seconds.
func parseRetryAfter(value string, now time.Time) time.Duration {
	const fallback = 30 * time.Second

	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a snapshot of the client's protective state.
type ClientStatus struct {
	Source       string
	RateLimiter  RateLimiterStatus
	BreakerState string
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		Source:       c.config.Name,
		RateLimiter:  c.rateLimiter.Status(),
		BreakerState: c.breaker.State().String(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
