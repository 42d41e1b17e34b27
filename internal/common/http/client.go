// internal/common/http/client.go
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"compras-aggregator/internal/common/config"
	apperrors "compras-aggregator/internal/common/errors"
	"compras-aggregator/internal/common/metrics"
)

const maxBodyBytes = 16 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configure one ResilientClient.
type Options struct {
	Source    string
	BaseURL   string
	Timeout   time.Duration // per attempt
	Headers   map[string]string
	RateLimit RateLimitSettings
	Breaker   BreakerSettings
	Retry     RetryPolicy
}

type RateLimitSettings struct {
	MaxRequests int
	Window      time.Duration
	Policy      LimitPolicy
}

// OptionsFromConfig builds Options for a source from its config block.
func OptionsFromConfig(source string, sc config.SourceConfig) Options {
	return Options{
		Source:  source,
		BaseURL: sc.BaseURL,
		Timeout: config.GetDuration(sc.Timeout),
		RateLimit: RateLimitSettings{
			MaxRequests: sc.RateLimit.MaxRequests,
			Window:      config.GetDuration(sc.RateLimit.Window),
			Policy:      LimitPolicy(sc.RateLimit.Policy),
		},
		Breaker: BreakerSettings{
			ErrorThreshold:  sc.Breaker.ErrorThreshold,
			VolumeThreshold: sc.Breaker.VolumeThreshold,
			ResetTimeout:    config.GetDuration(sc.Breaker.ResetTimeout),
			RollingWindow:   config.GetDuration(sc.Breaker.RollingWindow),
		},
		Retry: RetryPolicy{
			MaxRetries: sc.Retry.MaxRetries,
			BaseDelay:  config.GetDuration(sc.Retry.BaseDelay),
			MaxDelay:   config.GetDuration(sc.Retry.MaxDelay),
		},
	}
}

// Option customizes a ResilientClient at construction.
type Option func(*ResilientClient)

// WithHTTPClient replaces the transport.
func WithHTTPClient(d Doer) Option {
	return func(c *ResilientClient) { c.doer = d }
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l Logger) Option {
	return func(c *ResilientClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the time source and sleep function shared by the limiter,
// the breaker and the retry loop.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *ResilientClient) {
		c.now = now
		c.sleep = sleep
	}
}

// WithListener registers an event listener at construction.
func WithListener(l Listener) Option {
	return func(c *ResilientClient) { c.listeners = append(c.listeners, l) }
}

// RequestSpec describes one logical upstream call. Path is joined to BaseURL
// unless it is already absolute.
type RequestSpec struct {
	Method  string
	Path    string
	Query   url.Values
	Body    interface{}
	Headers map[string]string
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// Empty reports a 204 or a 2xx whose body holds only whitespace.
func (r *Response) Empty() bool {
	return r.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(r.Body)) == 0
}

// JSON decodes the body into v. An empty response leaves v untouched.
func (r *Response) JSON(v interface{}) error {
	if r.Empty() {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ResilientClient wraps one upstream source with a sliding-window rate limiter,
// a circuit breaker and bounded retry. One instance per source; no state is
// shared between instances.
type ResilientClient struct {
	opts    Options
	doer    Doer
	limiter *SlidingWindowLimiter
	breaker *CircuitBreaker
	logger  Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	listeners []Listener
}

func NewResilientClient(opts Options, options ...Option) *ResilientClient {
	c := &ResilientClient{
		opts:   opts,
		doer:   &http.Client{},
		logger: nopLogger{},
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, o := range options {
		o(c)
	}

	c.limiter = NewSlidingWindowLimiter(opts.RateLimit.MaxRequests, opts.RateLimit.Window, opts.RateLimit.Policy)
	c.limiter.now = c.now
	c.limiter.sleep = c.sleep

	c.breaker = NewCircuitBreaker(opts.Breaker)
	c.breaker.now = c.now
	c.breaker.onTransition = c.onTransition

	metrics.CircuitBreakerState.WithLabelValues(opts.Source).Set(StateClosed.Gauge())
	return c
}

// Source returns the source name this client serves.
func (c *ResilientClient) Source() string { return c.opts.Source }

// State returns the breaker state.
func (c *ResilientClient) State() State { return c.breaker.State() }

// Available reports whether the breaker would admit a call now.
func (c *ResilientClient) Available() bool { return c.breaker.Available() }

// OnEvent registers a listener.
func (c *ResilientClient) OnEvent(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Get issues a GET through Request.
func (c *ResilientClient) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a JSON POST through Request.
func (c *ResilientClient) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.Request(ctx, RequestSpec{Method: http.MethodPost, Path: path, Body: body})
}

// Request runs spec through the breaker, limiter and retry loop. Errors are
// *errors.StandardError values classified as TIMEOUT, RATE_LIMITED,
// SERVICE_UNAVAILABLE, NOT_FOUND, UPSTREAM_REJECTED or AUTHENTICATION_ERROR.
func (c *ResilientClient) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	source := c.opts.Source
	start := c.now()

	if err := c.breaker.Allow(); err != nil {
		c.emit(Event{Type: EventRejected, Err: err})
		metrics.SourceRequestsTotal.WithLabelValues(source, "rejected").Inc()
		return nil, apperrors.NewCircuitOpenError(source)
	}

	resp, outcome, err := c.execute(ctx, spec)
	c.breaker.Record(outcome)

	metrics.SourceRequestDuration.WithLabelValues(source).Observe(c.now().Sub(start).Seconds())
	if err != nil {
		metrics.SourceRequestsTotal.WithLabelValues(source, string(apperrors.Classify(err))).Inc()
		return nil, err
	}
	metrics.SourceRequestsTotal.WithLabelValues(source, "success").Inc()
	resp.Duration = c.now().Sub(start)
	return resp, nil
}

// Probe performs a single attempt that bypasses retry and breaker accounting.
// It still respects the rate limiter. Used for health checks.
func (c *ResilientClient) Probe(ctx context.Context, spec RequestSpec) (*Response, error) {
	if _, err := c.limiter.Acquire(ctx); err != nil {
		return nil, c.limiterError(ctx, err)
	}
	start := c.now()
	resp, _, err := c.attempt(ctx, spec)
	if err != nil {
		return nil, err
	}
	resp.Attempts = 1
	resp.Duration = c.now().Sub(start)
	return resp, nil
}

func (c *ResilientClient) execute(ctx context.Context, spec RequestSpec) (*Response, Outcome, error) {
	policy := c.opts.Retry
	var lastErr error
	lastOutcome := OutcomeFailure

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		waited, err := c.limiter.Acquire(ctx)
		if waited > 0 {
			metrics.RateLimiterWaitSeconds.WithLabelValues(c.opts.Source).Observe(waited.Seconds())
		}
		if err != nil {
			c.emit(Event{Type: EventRateLimited, Attempt: attempt, Err: err})
			// The upstream was never contacted; a failure here says nothing about it.
			return nil, OutcomeNeutral, c.limiterError(ctx, err)
		}

		resp, retryAfter, err := c.attempt(ctx, spec)
		if err == nil {
			resp.Attempts = attempt + 1
			return resp, OutcomeSuccess, nil
		}

		se, _ := apperrors.As(err)
		outcome := outcomeFor(se)
		retryable := se != nil && se.Retryable && ctx.Err() == nil
		if !retryable || attempt == policy.MaxRetries {
			se.WithMetadata("attempts", attempt+1)
			return nil, outcome, se
		}
		lastErr, lastOutcome = se, outcome

		delay := policy.Backoff(attempt)
		if retryAfter > 0 {
			delay = policy.capDelay(retryAfter)
		}
		c.emit(Event{Type: EventRetry, Attempt: attempt + 1, Delay: delay, Err: err})
		metrics.SourceRetriesTotal.WithLabelValues(c.opts.Source).Inc()

		if err := c.sleep(ctx, delay); err != nil {
			c.emit(Event{Type: EventTimeout, Attempt: attempt + 1, Err: err})
			return nil, OutcomeFailure, apperrors.NewTimeoutError(c.opts.Source, err).
				WithMetadata("attempts", attempt+1)
		}
	}
	return nil, lastOutcome, lastErr
}

// attempt performs one HTTP exchange and classifies the result. The returned
// duration is the upstream Retry-After hint, if any.
func (c *ResilientClient) attempt(ctx context.Context, spec RequestSpec) (*Response, time.Duration, error) {
	source := c.opts.Source

	attemptCtx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	req, err := c.buildRequest(attemptCtx, spec)
	if err != nil {
		return nil, 0, apperrors.NewUpstreamRejectedError(source, 0).WithMetadata("buildError", err.Error())
	}

	httpResp, err := c.doer.Do(req)
	if err != nil {
		return nil, 0, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, 0, c.transportError(ctx, err)
	}

	code := httpResp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return &Response{StatusCode: code, Header: httpResp.Header, Body: body}, 0, nil
	case code == http.StatusNotFound:
		return nil, 0, apperrors.NewNotFoundError(source, req.URL.Path)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return nil, 0, apperrors.NewAuthenticationError(source, code)
	case code == http.StatusTooManyRequests:
		retryAfter, _ := parseRetryAfter(httpResp.Header.Get("Retry-After"), c.now())
		return nil, retryAfter, apperrors.NewRateLimitedError(source, fmt.Errorf("upstream returned %d", code)).
			WithMetadata("statusCode", code)
	case isRetryableStatus(code):
		retryAfter, _ := parseRetryAfter(httpResp.Header.Get("Retry-After"), c.now())
		return nil, retryAfter, apperrors.NewServiceUnavailableError(source, fmt.Errorf("upstream returned %d", code)).
			WithMetadata("statusCode", code)
	case code >= 500:
		se := apperrors.NewServiceUnavailableError(source, fmt.Errorf("upstream returned %d", code)).
			WithMetadata("statusCode", code)
		se.Retryable = false
		return nil, 0, se
	default:
		return nil, 0, apperrors.NewUpstreamRejectedError(source, code)
	}
}

func (c *ResilientClient) buildRequest(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	target := spec.Path
	switch {
	case target == "":
		target = c.opts.BaseURL
	case !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://"):
		target = strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(spec.Path, "/")
	}
	if len(spec.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + spec.Query.Encode()
	}

	var body io.Reader
	if spec.Body != nil {
		payload, err := json.Marshal(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if spec.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.opts.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// transportError classifies a failed exchange. A cancelled or expired caller
// context is a timeout and is never retried.
func (c *ResilientClient) transportError(ctx context.Context, err error) *apperrors.StandardError {
	source := c.opts.Source
	if ctx.Err() != nil {
		c.emit(Event{Type: EventTimeout, Err: err})
		se := apperrors.NewTimeoutError(source, err)
		se.Retryable = false
		return se
	}
	if isTransportTimeout(err) {
		c.emit(Event{Type: EventTimeout, Err: err})
		return apperrors.NewTimeoutError(source, err)
	}
	se := apperrors.NewServiceUnavailableError(source, err)
	se.Retryable = isRetryableNetworkError(err)
	return se
}

func (c *ResilientClient) limiterError(ctx context.Context, err error) error {
	if errors.Is(err, ErrRateLimitExceeded) {
		return apperrors.NewRateLimitedError(c.opts.Source, err).WithMetadata("local", true)
	}
	if ctx.Err() != nil {
		return apperrors.NewTimeoutError(c.opts.Source, err)
	}
	return apperrors.NewServiceUnavailableError(c.opts.Source, err)
}

// outcomeFor decides how an error counts toward the breaker: only upstream
// trouble is a failure.
func outcomeFor(se *apperrors.StandardError) Outcome {
	if se == nil {
		return OutcomeFailure
	}
	switch se.Code {
	case apperrors.ErrCodeTimeout, apperrors.ErrCodeRateLimited, apperrors.ErrCodeServiceUnavailable:
		return OutcomeFailure
	default:
		return OutcomeNeutral
	}
}

func (c *ResilientClient) onTransition(from, to State) {
	var ev EventType
	switch to {
	case StateOpen:
		ev = EventOpened
	case StateHalfOpen:
		ev = EventHalfOpen
	default:
		ev = EventClosed
	}
	metrics.CircuitBreakerState.WithLabelValues(c.opts.Source).Set(to.Gauge())
	c.logger.Warn("circuit breaker transition", map[string]interface{}{
		"source": c.opts.Source,
		"from":   string(from),
		"to":     string(to),
	})
	c.emit(Event{Type: ev})
}

func (c *ResilientClient) emit(ev Event) {
	ev.Source = c.opts.Source
	if ev.At.IsZero() {
		ev.At = c.now()
	}
	metrics.CircuitBreakerEvents.WithLabelValues(ev.Source, string(ev.Type)).Inc()

	if ev.Type == EventRetry {
		c.logger.Debug("retrying upstream request", map[string]interface{}{
			"source":  ev.Source,
			"attempt": ev.Attempt,
			"delayMs": ev.Delay.Milliseconds(),
			"error":   ev.Err,
		})
	}

	c.mu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
