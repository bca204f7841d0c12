// Package retry executes CargoTech HTTP attempts under the shared rate
// limiter with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"cargolink/internal/platform/tracer"
)

// Admitter is the rate limiter consulted before every attempt.
type Admitter interface {
	TryAcquire() bool
	Delay() time.Duration
}

// AttemptFunc performs one HTTP attempt. It must build a fresh request on
// every call so bodies can be re-sent.
type AttemptFunc func(ctx context.Context) (*http.Response, error)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	JitterMax   time.Duration
}

// DefaultPolicy is 4 attempts, 750ms base, up to 250ms jitter.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 4, Base: 750 * time.Millisecond, JitterMax: 250 * time.Millisecond}
}

// minAdmissionWait keeps a refused caller from spinning on the limiter.
const minAdmissionWait = 5 * time.Millisecond

const (
	reasonRateLimited = "rate_limited"
	reasonServerError = "server_error"
	reasonNetwork     = "network"
	reasonTimeout     = "timeout"
)

// Client runs attempts with admission control and backoff.
type Client struct {
	limiter Admitter
	policy  Policy
	logger  *slog.Logger
	tracer  tracer.Tracer
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	jitter  func(max time.Duration) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithPolicy overrides DefaultPolicy. Zero MaxAttempts or Base keep the
// default; JitterMax is taken as given.
func WithPolicy(p Policy) Option {
	return func(c *Client) {
		if p.MaxAttempts > 0 {
			c.policy.MaxAttempts = p.MaxAttempts
		}
		if p.Base > 0 {
			c.policy.Base = p.Base
		}
		if p.JitterMax >= 0 {
			c.policy.JitterMax = p.JitterMax
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep replaces the context-aware sleep used between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithJitter replaces the jitter draw; it must return a value in [0, max].
func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(c *Client) {
		c.jitter = jitter
	}
}

// New creates a Client bound to limiter.
func New(limiter Admitter, opts ...Option) *Client {
	c := &Client{
		limiter: limiter,
		policy:  DefaultPolicy(),
		sleep:   sleepContext,
		jitter:  uniformJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = tracer.NewNoop()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	return c
}

// Policy returns the effective policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Execute runs attempt until it yields a non-retryable response or the
// attempt budget is spent. 429 and 5xx responses, network errors and
// timeouts are retried; any other response is returned unchanged.
//
// On exhaustion it returns ErrRateLimitExceeded when the last attempt was a
// 429, otherwise a *TransientError. Response bodies of retried attempts are
// closed. Limiter tokens are spent per attempt and never refunded.
func (c *Client) Execute(ctx context.Context, op string, attempt AttemptFunc) (*http.Response, error) {
	var (
		lastStatus int
		lastErr    error
		lastReason string
	)

	for n := 0; n < c.policy.MaxAttempts; n++ {
		if err := c.admit(ctx); err != nil {
			return nil, err
		}

		resp, err := c.runAttempt(ctx, op, n+1, attempt)
		reason := classify(resp, err)
		if reason == "" {
			c.metrics.Attempts.WithLabelValues(op, "ok").Inc()
			return resp, nil
		}
		if err != nil && ctx.Err() != nil {
			// the caller gave up; not an upstream failure
			return nil, ctx.Err()
		}
		c.metrics.Attempts.WithLabelValues(op, reason).Inc()

		lastReason, lastErr, lastStatus = reason, err, 0
		if resp != nil {
			lastStatus = resp.StatusCode
			drainAndClose(resp)
		}

		if n == c.policy.MaxAttempts-1 {
			break
		}

		wait := Backoff(c.policy.Base, n, c.jitter(c.policy.JitterMax))
		c.metrics.Retries.WithLabelValues(op, reason).Inc()
		c.logger.WarnContext(ctx, "retrying cargotech call",
			"op", op,
			"attempt", n+1,
			"max_attempts", c.policy.MaxAttempts,
			"wait_ms", wait.Milliseconds(),
			"reason", reason,
			"status", lastStatus,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	c.metrics.Exhausted.WithLabelValues(op, lastReason).Inc()
	c.logger.ErrorContext(ctx, "cargotech call exhausted retries",
		"op", op,
		"attempts", c.policy.MaxAttempts,
		"reason", lastReason,
		"status", lastStatus,
	)
	if lastReason == reasonRateLimited {
		return nil, ErrRateLimitExceeded
	}
	return nil, &TransientError{Op: op, Attempts: c.policy.MaxAttempts, StatusCode: lastStatus, Err: lastErr}
}

func (c *Client) runAttempt(ctx context.Context, op string, number int, attempt AttemptFunc) (*http.Response, error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanUpstreamAttempt,
		tracer.String(tracer.AttrOperation, op),
		tracer.Int(tracer.AttrAttempt, number),
	)
	resp, err := attempt(ctx)
	if resp != nil {
		span.SetAttributes(tracer.Int(tracer.AttrStatusCode, resp.StatusCode))
	}
	span.End(err)
	return resp, err
}

// admit blocks until the limiter grants a token or ctx ends.
func (c *Client) admit(ctx context.Context) error {
	start := time.Now()
	for !c.limiter.TryAcquire() {
		wait := c.limiter.Delay()
		if wait < minAdmissionWait {
			wait = minAdmissionWait
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.metrics.Admission.Observe(time.Since(start).Seconds())
	return nil
}

// classify returns the retry reason, or "" when the result is final.
func classify(resp *http.Response, err error) string {
	if err != nil {
		var timeout interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
			return reasonTimeout
		}
		return reasonNetwork
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return reasonRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return reasonServerError
	default:
		return ""
	}
}

func drainAndClose(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func uniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}
