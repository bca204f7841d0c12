package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	authmw "cargolink/pkg/platform/middleware/auth"
	"cargolink/pkg/platform/middleware/request"
	"cargolink/pkg/platform/middleware/requesttime"
)

const (
	// DefaultRequestTimeout bounds one request including upstream retries.
	DefaultRequestTimeout = 30 * time.Second
	maxRequestBody        = 1 << 20
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

// RegisterFunc adapts a plain function to Registrar.
type RegisterFunc func(r chi.Router)

func (f RegisterFunc) Register(r chi.Router) { f(r) }

// Routes groups handlers by how callers authenticate.
type Routes struct {
	Health Registrar
	// API routes require the Telegram user header.
	API []Registrar
	// Webhooks verify their provider's body signature, so they skip the
	// user check.
	Webhooks []Registrar
}

// Option configures NewRouter.
type Option func(*routerConfig)

type routerConfig struct {
	timeout time.Duration
	clock   func() time.Time
}

// WithTimeout overrides DefaultRequestTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *routerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithClock sets the clock used to stamp each request.
func WithClock(now func() time.Time) Option {
	return func(c *routerConfig) {
		if now != nil {
			c.clock = now
		}
	}
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(routes Routes, logger *slog.Logger, opts ...Option) http.Handler {
	cfg := routerConfig{timeout: DefaultRequestTimeout, clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.ClientIP)
	r.Use(request.Logger(logger))
	r.Use(request.NewMetrics().Instrument)
	r.Use(requesttime.WithClock(cfg.clock))
	r.Use(request.Timeout(cfg.timeout))
	r.Use(request.BodyLimit(maxRequestBody))

	r.Handle("/metrics", promhttp.Handler())
	if routes.Health != nil {
		routes.Health.Register(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireUser(logger))
		for _, reg := range routes.API {
			reg.Register(r)
		}
	})

	r.Group(func(r chi.Router) {
		for _, reg := range routes.Webhooks {
			reg.Register(r)
		}
	})

	return r
}
