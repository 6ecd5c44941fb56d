// Package client provides the rate-limited OpenAlex fetcher: one upstream
// call per cache miss, spaced, with an extended pause on rate limits.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/rewind-dispatch/pkg/cache"
	"github.com/Sternrassler/rewind-dispatch/pkg/openalex"
	"github.com/Sternrassler/rewind-dispatch/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})

	upstreamBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_upstream_backoff_seconds",
		Help:    "Pause applied after rate-limit responses",
		Buckets: []float64{0.5, 1, 2, 5, 10},
	})

	upstreamRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_upstream_retries_total",
		Help: "Total number of retried rate-limited lookups",
	})
)

// Client holds the long-lived upstream configuration. Fetchers are created
// from it per run.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the works endpoint (default openalex.DefaultBaseURL)
	BaseURL string

	// Contact email sent as mailto (REQUIRED for the polite pool)
	Contact string

	// User-Agent header
	UserAgent string

	// Spacing between consecutive upstream calls of one fetcher
	MinSpacing time.Duration

	// Pause after a 429, and the cap for Retry-After hints
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration

	// Extra attempts after a 429 (0 = give up on the key after one backoff)
	RateLimitRetries int

	// Per-request timeout
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(contact string) Config {
	return Config{
		BaseURL:          openalex.DefaultBaseURL,
		Contact:          contact,
		UserAgent:        "rewind-dispatch/1.0 (mailto:" + contact + ")",
		MinSpacing:       ratelimit.DefaultMinSpacing,
		RateLimitBackoff: ratelimit.DefaultRateLimitBackoff,
		MaxBackoff:       ratelimit.DefaultMaxBackoff,
		RateLimitRetries: 0,
		Timeout:          10 * time.Second,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.Contact == "" {
		return nil, ErrContactRequired
	}

	if cfg.MinSpacing > 0 && cfg.RateLimitBackoff <= cfg.MinSpacing {
		return nil, fmt.Errorf("%w (backoff %v, spacing %v)", ErrBackoffTooShort, cfg.RateLimitBackoff, cfg.MinSpacing)
	}

	if cfg.RateLimitRetries < 0 {
		return nil, fmt.Errorf("rate_limit_retries must be >= 0 (got %d)", cfg.RateLimitRetries)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = openalex.DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// SetLogger replaces the component logger.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// fetch performs exactly one upstream request for key.
func (c *Client) fetch(ctx context.Context, key cache.FetchKey) (cache.FetchResult, error) {
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	q := openalex.Query{
		PublicationDate: key.Date,
		FieldIDs:        key.Categories,
		Contact:         c.config.Contact,
	}
	target, err := q.URL(c.config.BaseURL)
	if err != nil {
		return cache.None(), fmt.Errorf("build query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return cache.None(), fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("key", key.String()).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return cache.None(), &UpstreamError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return cache.None(), &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
			RetryAfter: ratelimit.ParseRetryAfter(resp.Header, time.Now()),
		}
	}

	var body openalex.WorksResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return cache.None(), &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode works response",
			Err:        err,
		}
	}

	if len(body.Results) == 0 {
		return cache.None(), nil
	}
	return cache.Found(body.Results[0].Paper()), nil
}
