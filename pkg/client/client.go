// Package client sends ET API requests with bounded retry, exponential
// backoff and an operator decision once retries run out.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/et-gather/pkg/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for ET client operations.
var (
	etRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "et_requests_total",
		Help: "Total ET API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	etRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "et_request_duration_seconds",
		Help:    "ET API request duration in seconds by endpoint",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"endpoint"})

	etErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "et_errors_total",
		Help: "Total ET API errors by class",
	}, []string{"class"})

	etRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "et_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	etRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "et_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 60},
	}, []string{"error_class"})

	etRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "et_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	etDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "et_decisions_total",
		Help: "Operator decisions taken after exhausted retries",
	}, []string{"decision"})
)

// ResponseCache stores successful responses. *cache.Manager implements it.
type ResponseCache interface {
	Get(ctx context.Context, key cache.Key) (*cache.Entry, error)
	Set(ctx context.Context, key cache.Key, entry *cache.Entry) error
	TTL() time.Duration
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent verbatim in the Authorization header.
	APIKey string

	// Timeout bounds a single POST, body included.
	Timeout time.Duration

	// AllowedStatus lists the status codes that count as success.
	AllowedStatus []int

	// Retry
	Retry RetryConfig

	// Decider is consulted after retries run out. Nil means AbandonDecider.
	Decider Decider

	// Cache is optional.
	Cache ResponseCache

	// Logger is optional; nil disables client logging.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration for apiKey.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:        apiKey,
		Timeout:       5 * time.Minute,
		AllowedStatus: []int{http.StatusOK},
		Retry:         DefaultRetryConfig(),
	}
}

// Client issues requests against the ET API.
type Client struct {
	httpClient *http.Client
	config     Config
	allowed    map[int]bool
	decider    Decider
	logger     zerolog.Logger
}

// New creates a new ET client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		return nil, &ConfigurationError{Field: "timeout", Err: fmt.Errorf("must be positive (got %s)", cfg.Timeout)}
	}
	if len(cfg.AllowedStatus) == 0 {
		return nil, &ConfigurationError{Field: "allowed status list"}
	}
	if cfg.Retry.MaxRetries < 0 {
		return nil, &ConfigurationError{Field: "max retries", Err: fmt.Errorf("must be >= 0 (got %d)", cfg.Retry.MaxRetries)}
	}
	if cfg.Retry.BaseBackoff < 0 || cfg.Retry.MaxBackoff < cfg.Retry.BaseBackoff {
		return nil, &ConfigurationError{Field: "backoff", Err: fmt.Errorf("need 0 <= base <= max (got %s, %s)", cfg.Retry.BaseBackoff, cfg.Retry.MaxBackoff)}
	}

	allowed := make(map[int]bool, len(cfg.AllowedStatus))
	for _, code := range cfg.AllowedStatus {
		allowed[code] = true
	}

	decider := cfg.Decider
	if decider == nil {
		decider = AbandonDecider{}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "et-client").Logger()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		allowed:    allowed,
		decider:    decider,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// MaxRetries returns the configured retries per cycle.
func (c *Client) MaxRetries() int {
	return c.config.Retry.MaxRetries
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// Cached is set when the response came from the response cache.
	Cached bool
}

// Request is one logical request. Send may be called more than once; the
// attempt counter and last response are kept between calls.
type Request struct {
	client   *Client
	endpoint string
	params   map[string]any
	attempt  int
	response *Response
	logger   zerolog.Logger
}

// NewRequest prepares a POST of params to endpoint.
func (c *Client) NewRequest(endpoint string, params map[string]any) *Request {
	return &Request{
		client:   c,
		endpoint: endpoint,
		params:   params,
		attempt:  1,
		logger:   c.logger.With().Str("endpoint", endpoint).Logger(),
	}
}

// Attempt returns the attempt counter. It starts at 1 and grows by one per retry.
func (r *Request) Attempt() int {
	return r.attempt
}

// Response returns the last response, or nil when none was received or the
// request was abandoned.
func (r *Request) Response() *Response {
	return r.response
}

// Success reports whether the last response has an allowed status. It never fails.
func (r *Request) Success() bool {
	return r.response != nil && r.client.allowed[r.response.StatusCode]
}

// Send posts the request, retrying failed attempts up to maxRetries times.
//
// When a cycle runs out and ignoreFails is false, the client's Decider is
// asked how to continue and Send blocks until it answers. With ignoreFails
// the last response is returned together with an error wrapping
// ErrRetryExhausted. Cancelling ctx abandons the request without retry and
// returns an error wrapping ErrInterrupted.
func (r *Request) Send(ctx context.Context, maxRetries int, ignoreFails bool) (*Response, error) {
	if err := r.validate(); err != nil {
		r.logger.Error().Err(err).Msg("Request failed")
		return nil, err
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	body, err := json.Marshal(r.params)
	if err != nil {
		return nil, &ConfigurationError{Field: "parameters", Err: err}
	}

	key := cache.Key{Endpoint: r.endpoint, Payload: body}
	if resp := r.lookup(ctx, key); resp != nil {
		r.response = resp
		return resp, nil
	}

	for {
		err := r.retryCycle(ctx, body, maxRetries)
		if err == nil {
			r.store(ctx, key)
			return r.response, nil
		}
		if errors.Is(err, ErrInterrupted) {
			r.response = nil
			return nil, err
		}
		if ignoreFails {
			return r.response, err
		}

		failure := r.failure(err)
		r.logger.Error().
			Int("status_code", failure.StatusCode).
			Int("attempt", r.attempt).
			Msg(failure.Summary())
		r.logger.Debug().Interface("params", r.params).Msg("Failed request parameters")

		decision, derr := r.client.decider.Decide(ctx, failure)
		if derr != nil {
			r.response = nil
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, derr)
		}
		etDecisionsTotal.WithLabelValues(decision.String()).Inc()

		switch decision {
		case DecisionRetry:
			r.logger.Info().Msg("Operator chose to retry")
		case DecisionRetryIgnoring:
			r.logger.Info().Msg("Operator chose to retry and ignore further failures")
			ignoreFails = true
		default:
			r.response = nil
			return nil, fmt.Errorf("%w: %s", ErrAbandoned, failure.Summary())
		}
	}
}

func (r *Request) validate() error {
	if r.endpoint == "" {
		return &ConfigurationError{Field: "endpoint"}
	}
	u, err := url.Parse(r.endpoint)
	if err != nil {
		return &ConfigurationError{Field: "endpoint", Err: err}
	}
	if u.Scheme == "" || u.Host == "" {
		return &ConfigurationError{Field: "endpoint", Err: fmt.Errorf("%q is not an absolute URL", r.endpoint)}
	}
	if len(r.params) == 0 {
		return &ConfigurationError{Field: "parameters"}
	}
	if r.client.config.APIKey == "" {
		return &ConfigurationError{Field: "API key"}
	}
	return nil
}

// post performs a single attempt and records the response.
func (r *Request) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{ErrorClass: ErrorClassNetwork, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", r.client.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	r.logger.Debug().Int("attempt", r.attempt).Msg("Executing ET request")

	startTime := time.Now()
	resp, err := r.client.httpClient.Do(req)
	etRequestDuration.WithLabelValues(r.endpoint).Observe(time.Since(startTime).Seconds())

	if err != nil {
		r.response = nil
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
		r.logger.Error().Err(err).Msg("HTTP request failed")
		etErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		etRequestsTotal.WithLabelValues(r.endpoint, "network_error").Inc()
		return &TransportError{ErrorClass: ErrorClassNetwork, Message: "no response", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.response = nil
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
		etErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		etRequestsTotal.WithLabelValues(r.endpoint, "network_error").Inc()
		return &TransportError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}

	r.response = &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}
	etRequestsTotal.WithLabelValues(r.endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if !r.client.allowed[resp.StatusCode] {
		errClass := classify(resp.StatusCode, nil)
		etErrorsTotal.WithLabelValues(string(errClass)).Inc()
		r.logger.Warn().
			Int("status_code", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("ET request error")
		return &TransportError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	return nil
}

func (r *Request) failure(err error) Failure {
	f := Failure{Endpoint: r.endpoint, Attempts: r.attempt, Err: err}
	if r.response != nil {
		f.StatusCode = r.response.StatusCode
		f.Body = string(r.response.Body)
	}
	return f
}

func (r *Request) lookup(ctx context.Context, key cache.Key) *Response {
	if r.client.config.Cache == nil {
		return nil
	}
	entry, err := r.client.config.Cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Warn().Err(err).Msg("Cache get error")
		}
		return nil
	}
	if !r.client.allowed[entry.StatusCode] {
		return nil
	}
	r.logger.Debug().Msg("Using cached response")
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Headers,
		Body:       entry.Data,
		Cached:     true,
	}
}

func (r *Request) store(ctx context.Context, key cache.Key) {
	c := r.client.config.Cache
	if c == nil || r.response == nil {
		return
	}
	entry := cache.NewEntry(r.response.StatusCode, r.response.Header, r.response.Body, c.TTL())
	if err := c.Set(ctx, key, entry); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to cache response")
	}
}
