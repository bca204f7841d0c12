// Package limiter guards the CargoTech global request budget with a token
// bucket shared by every caller in the process.
package limiter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// DefaultCapacity matches the upstream limit of 600 requests per minute.
const DefaultCapacity = 600

// Budget is a point-in-time view of the bucket.
// 0 <= Tokens <= Capacity.
type Budget struct {
	Capacity   int
	Tokens     float64
	LastRefill time.Time // instant the balance was computed for
}

// Metrics counts admission decisions.
type Metrics struct {
	Decisions *prometheus.CounterVec
	Tokens    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide limiter metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_upstream_limiter_decisions_total",
				Help: "Upstream admission decisions by result",
			}, []string{"decision"}),
			Tokens: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cargolink_upstream_limiter_tokens",
				Help: "Upstream tokens available at the last decision",
			}),
		}
	})
	return metricsInstance
}

// TokenBucket admits at most Capacity requests in a burst and refills at
// Capacity/60 tokens per second. Refill is computed lazily from the clock on
// every call, never accumulated from small increments.
type TokenBucket struct {
	capacity int
	lim      *rate.Limiter
	now      func() time.Time
	metrics  *Metrics
}

// Option configures a TokenBucket.
type Option func(*TokenBucket)

// WithClock overrides time.Now. The clock must be monotonic.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) {
		if now != nil {
			b.now = now
		}
	}
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(b *TokenBucket) {
		b.metrics = m
	}
}

// New creates a full bucket. Non-positive capacity means DefaultCapacity.
func New(capacity int, opts ...Option) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &TokenBucket{
		capacity: capacity,
		lim:      rate.NewLimiter(rate.Limit(float64(capacity)/60), capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics()
	}
	return b
}

// TryAcquire consumes one token if available. It never blocks.
func (b *TokenBucket) TryAcquire() bool {
	now := b.now()
	ok := b.lim.AllowN(now, 1)
	if ok {
		b.metrics.Decisions.WithLabelValues("admitted").Inc()
	} else {
		b.metrics.Decisions.WithLabelValues("refused").Inc()
	}
	b.metrics.Tokens.Set(b.lim.TokensAt(now))
	return ok
}

// Delay is how long until one token will be available; zero if one is now.
func (b *TokenBucket) Delay() time.Duration {
	tokens := b.lim.TokensAt(b.now())
	if tokens >= 1 {
		return 0
	}
	perSecond := float64(b.lim.Limit())
	return time.Duration((1 - tokens) / perSecond * float64(time.Second))
}

// Budget returns a snapshot of the bucket.
func (b *TokenBucket) Budget() Budget {
	now := b.now()
	return Budget{
		Capacity:   b.capacity,
		Tokens:     b.lim.TokensAt(now),
		LastRefill: now,
	}
}
