// Package auth owns the CargoTech bearer token: login, caching, and the
// single re-login allowed after a 401.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"cargolink/internal/cargotech/retry"
	"cargolink/internal/platform/alert"
	"cargolink/internal/platform/privacy"
	"cargolink/internal/platform/tracer"
)

// ErrAuthenticationFailure means the upstream rejected freshly acquired
// credentials. It is fatal: callers must not retry.
var ErrAuthenticationFailure = errors.New("cargotech authentication failure")

// DefaultTTL is how long a token is reused without a 401.
const DefaultTTL = 24 * time.Hour

const (
	loginPath    = "/v1/auth/login"
	loginOp      = "auth.login"
	loginTimeout = 15 * time.Second
)

// Executor runs an HTTP attempt under the retry policy.
type Executor interface {
	Execute(ctx context.Context, op string, attempt retry.AttemptFunc) (*http.Response, error)
}

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SendFunc performs one upstream request with the given bearer token.
type SendFunc func(ctx context.Context, token string) (*http.Response, error)

// Credentials are the upstream account's login.
type Credentials struct {
	Phone    string
	Password string
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type loginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Metrics for token lifecycle.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Invalidations prometheus.Counter
	FatalFailures prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide auth metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Logins: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_upstream_logins_total",
				Help: "Upstream login calls by result",
			}, []string{"result"}),
			Invalidations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_upstream_token_invalidations_total",
				Help: "Cached upstream tokens discarded after a 401",
			}),
			FatalFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_upstream_auth_failures_total",
				Help: "Fatal upstream authentication failures",
			}),
		}
	})
	return metricsInstance
}

// Manager caches the bearer token and collapses concurrent logins into one
// network call.
type Manager struct {
	baseURL  string
	creds    Credentials
	doer     HTTPDoer
	exec     Executor
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	tracer   tracer.Tracer
	notifier alert.Notifier
	metrics  *Metrics

	mu     sync.Mutex
	token  *Token
	group  singleflight.Group
	logins atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithNotifier sets where fatal authentication failures are reported.
func WithNotifier(n alert.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a Manager that logs in at baseURL through exec.
func NewManager(baseURL string, creds Credentials, doer HTTPDoer, exec Executor, opts ...Option) *Manager {
	m := &Manager{
		baseURL: baseURL,
		creds:   creds,
		doer:    doer,
		exec:    exec,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.tracer == nil {
		m.tracer = tracer.NewNoop()
	}
	if m.notifier == nil {
		m.notifier = alert.NewLogNotifier(m.logger)
	}
	if m.metrics == nil {
		m.metrics = NewMetrics()
	}
	return m
}

// Logins returns how many network logins have been performed.
func (m *Manager) Logins() int64 {
	return m.logins.Load()
}

func (m *Manager) cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.ValidAt(m.now()) {
		return m.token.Value, true
	}
	return "", false
}

// Token returns the cached token, logging in when it is absent or older
// than the TTL. Concurrent callers share one in-flight login.
func (m *Manager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ch := m.group.DoChan("login", func() (any, error) {
		// a flight that finished just before this one started may have
		// already stored a fresh token
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		// detached so one caller's cancellation does not fail the others
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loginTimeout)
		defer cancel()
		return m.login(loginCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate discards the cached token if it still equals stale. A 401 that
// arrives after another caller already re-logged in leaves the newer token
// untouched, so each invalidation costs at most one login.
func (m *Manager) Invalidate(stale string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil || m.token.Value != stale {
		return false
	}
	m.token = nil
	m.metrics.Invalidations.Inc()
	return true
}

// Call sends an authenticated request through the retry executor. On a 401
// it invalidates the token and retries exactly once with a fresh one; a
// second 401 returns ErrAuthenticationFailure and alerts operators.
func (m *Manager) Call(ctx context.Context, op string, send SendFunc) (*http.Response, error) {
	tok, err := m.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := m.exec.Execute(ctx, op, func(ctx context.Context) (*http.Response, error) {
		return send(ctx, tok)
	})
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	closeBody(resp)

	m.Invalidate(tok)
	m.logger.InfoContext(ctx, "cargotech token rejected, re-authenticating", "op", op)

	tok, err = m.Token(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = m.exec.Execute(ctx, op, func(ctx context.Context) (*http.Response, error) {
		return send(ctx, tok)
	})
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	closeBody(resp)

	m.fatal(ctx, op, "fresh token rejected with 401")
	return nil, ErrAuthenticationFailure
}

func (m *Manager) login(ctx context.Context) (string, error) {
	ctx, span := m.tracer.Start(ctx, tracer.SpanUpstreamLogin)

	body, err := json.Marshal(loginRequest{Phone: m.creds.Phone, Password: m.creds.Password, Remember: true})
	if err != nil {
		span.End(err)
		return "", fmt.Errorf("encode login request: %w", err)
	}

	m.logins.Add(1)
	resp, err := m.exec.Execute(ctx, loginOp, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+loginPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return m.doer.Do(req)
	})
	if err != nil {
		m.metrics.Logins.WithLabelValues("error").Inc()
		span.End(err)
		return "", fmt.Errorf("cargotech login: %w", err)
	}
	defer closeBody(resp)
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusUnprocessableEntity:
		m.metrics.Logins.WithLabelValues("rejected").Inc()
		m.fatal(ctx, loginOp, fmt.Sprintf("login rejected with status %d", resp.StatusCode))
		span.End(ErrAuthenticationFailure)
		return "", ErrAuthenticationFailure
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		m.metrics.Logins.WithLabelValues("error").Inc()
		err := fmt.Errorf("cargotech login: unexpected status %d", resp.StatusCode)
		span.End(err)
		return "", err
	}

	var decoded loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		m.metrics.Logins.WithLabelValues("error").Inc()
		span.End(err)
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if decoded.Data.Token == "" {
		m.metrics.Logins.WithLabelValues("error").Inc()
		err := errors.New("cargotech login: empty token")
		span.End(err)
		return "", err
	}

	m.mu.Lock()
	m.token = &Token{Value: decoded.Data.Token, AcquiredAt: m.now(), TTL: m.ttl}
	m.mu.Unlock()

	m.metrics.Logins.WithLabelValues("ok").Inc()
	m.logger.InfoContext(ctx, "cargotech login succeeded", "account", privacy.MaskPhone(m.creds.Phone))
	span.End(nil)
	return decoded.Data.Token, nil
}

func (m *Manager) fatal(ctx context.Context, op, reason string) {
	m.metrics.FatalFailures.Inc()
	err := m.notifier.Notify(ctx, alert.Alert{
		Severity: alert.SeverityCritical,
		Source:   "cargotech.auth",
		Summary:  "cargotech authentication failure",
		Details: map[string]string{
			"op":      op,
			"reason":  reason,
			"account": privacy.MaskPhone(m.creds.Phone),
		},
		At: m.now(),
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to deliver auth alert", "error", err)
	}
}

func closeBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
