// Package cache is the read-through cache in front of CargoTech. Entries
// live in one of three tiers with their own TTL, are kept for a grace window
// after expiry so an upstream outage can be answered with stale data, and
// are never allowed to fail a request when the store itself is down.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cargolink/internal/cache/store"
	"cargolink/internal/platform/tracer"
	"cargolink/internal/sentinel"
	"cargolink/pkg/platform/circuit"
)

// ErrCacheUnavailable marks store failures. Get absorbs it; Invalidate
// returns it.
var ErrCacheUnavailable = errors.New("cache store unavailable")

// Tier selects TTL and invalidation scope.
type Tier string

const (
	TierList      Tier = "list"
	TierDetail    Tier = "detail"
	TierReference Tier = "reference"
)

// Default TTLs and grace.
const (
	DefaultListTTL      = 5 * time.Minute
	DefaultDetailTTL    = 15 * time.Minute
	DefaultReferenceTTL = 24 * time.Hour
	DefaultStaleGrace   = time.Hour
)

// Store is a cache backend. Keys are scoped by tier. Get returns
// sentinel.ErrNotFound on a miss.
type Store interface {
	Get(ctx context.Context, tier, key string) (store.Entry, error)
	Set(ctx context.Context, e store.Entry, retain time.Duration) error
	Keys(ctx context.Context, tier string) ([]string, error)
	Delete(ctx context.Context, tier string, keys ...string) error
}

// Loader produces the value for a missed key.
type Loader func(ctx context.Context) ([]byte, error)

// Result is a cached or freshly loaded value. Stale is set when the value
// came from an expired entry because the loader failed.
type Result struct {
	Value []byte
	Stale bool
}

// Cache is a tiered read-through cache.
type Cache struct {
	store   Store
	ttls    map[Tier]time.Duration
	grace   time.Duration
	now     func() time.Time
	logger  *slog.Logger
	tracer  tracer.Tracer
	metrics *Metrics
	breaker *circuit.Breaker
	group   singleflight.Group

	mu      sync.Mutex
	flights map[flightKey]*flight
	seq     uint64
}

type flightKey struct {
	tier Tier
	key  string
}

// flight is one shared load. Invalidate marks it dropped so its result is
// returned to the callers already waiting but never stored.
type flight struct {
	id      uint64
	mu      sync.Mutex
	dropped bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the TTL of one tier.
func WithTTL(tier Tier, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttls[tier] = ttl
		}
	}
}

// WithStaleGrace sets how long expired entries are kept for fallback.
func WithStaleGrace(d time.Duration) Option {
	return func(c *Cache) {
		if d >= 0 {
			c.grace = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t tracer.Tracer) Option {
	return func(c *Cache) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithBreaker replaces the store circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Cache) {
		if b != nil {
			c.breaker = b
		}
	}
}

// New creates a Cache over s.
func New(s Store, opts ...Option) *Cache {
	c := &Cache{
		store: s,
		ttls: map[Tier]time.Duration{
			TierList:      DefaultListTTL,
			TierDetail:    DefaultDetailTTL,
			TierReference: DefaultReferenceTTL,
		},
		grace:   DefaultStaleGrace,
		now:     time.Now,
		logger:  slog.Default(),
		tracer:  tracer.NewNoop(),
		flights: make(map[flightKey]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	if c.breaker == nil {
		c.breaker = circuit.New("cache-store", circuit.WithClock(c.now))
	}
	return c
}

// TTL returns the configured TTL of tier.
func (c *Cache) TTL(tier Tier) time.Duration {
	return c.ttls[tier]
}

// Get returns the value for key, calling loader on a miss or expiry.
// Concurrent misses on one key share a single loader call. If the loader
// fails while an expired copy is still retained, that copy is returned with
// Stale set and no error.
func (c *Cache) Get(ctx context.Context, tier Tier, key string, loader Loader) (Result, error) {
	ttl, ok := c.ttls[tier]
	if !ok {
		return Result{}, fmt.Errorf("unknown cache tier %q", tier)
	}

	ctx, span := c.tracer.Start(ctx, tracer.SpanCacheGet, tracer.String(tracer.AttrCacheTier, string(tier)))

	cached, found, storeOK := c.lookup(ctx, tier, key)
	if !storeOK {
		c.metrics.Requests.WithLabelValues(string(tier), resultBypass).Inc()
		span.SetAttributes(tracer.String(tracer.AttrCacheResult, resultBypass))
		value, err := loader(ctx)
		span.End(err)
		return Result{Value: value}, err
	}

	now := c.now()
	if found && cached.FreshAt(now) {
		c.metrics.Requests.WithLabelValues(string(tier), resultHit).Inc()
		span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
		span.End(nil)
		return Result{Value: cached.Value}, nil
	}

	value, err := c.load(ctx, tier, key, ttl, loader)
	if err == nil {
		c.metrics.Requests.WithLabelValues(string(tier), resultMiss).Inc()
		span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, false))
		span.End(nil)
		return Result{Value: value}, nil
	}

	if found && now.Before(cached.ExpiresAt.Add(c.grace)) && ctx.Err() == nil {
		c.metrics.Requests.WithLabelValues(string(tier), resultStale).Inc()
		c.logger.WarnContext(ctx, "serving stale cache entry",
			"tier", tier,
			"key", key,
			"age", now.Sub(cached.StoredAt).Round(time.Second).String(),
			"error", err,
		)
		span.SetAttributes(tracer.Bool(tracer.AttrCacheStale, true))
		span.End(nil)
		return Result{Value: cached.Value, Stale: true}, nil
	}

	c.metrics.Requests.WithLabelValues(string(tier), resultError).Inc()
	span.End(err)
	return Result{}, err
}

// load runs loader once per key across concurrent callers and stores the
// result. The shared call is detached from the first caller's cancellation.
// A load that Invalidate dropped while it ran is not stored, and callers
// arriving after the invalidation start a new load.
func (c *Cache) load(ctx context.Context, tier Tier, key string, ttl time.Duration, loader Loader) ([]byte, error) {
	fk := flightKey{tier: tier, key: key}

	// Joining and starting happen under c.mu so a caller cannot attach to a
	// flight that leave has already removed.
	c.mu.Lock()
	f, ok := c.flights[fk]
	if !ok {
		c.seq++
		f = &flight{id: c.seq}
		c.flights[fk] = f
	}
	ch := c.group.DoChan(fmt.Sprintf("%s\x00%s\x00%d", tier, key, f.id), func() (any, error) {
		defer c.leave(fk, f)
		lctx := context.WithoutCancel(ctx)
		value, err := loader(lctx)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		if !f.dropped {
			c.save(lctx, tier, key, ttl, value)
		}
		f.mu.Unlock()
		return value, nil
	})
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		value, _ := res.Val.([]byte)
		return value, nil
	}
}

func (c *Cache) leave(fk flightKey, f *flight) {
	c.mu.Lock()
	if c.flights[fk] == f {
		delete(c.flights, fk)
	}
	c.mu.Unlock()
}

// drop detaches the running loads of tier that match pattern. It returns
// once none of them can still write to the store.
func (c *Cache) drop(tier Tier, pattern string) {
	prefix, isPrefix := strings.CutSuffix(pattern, "*")
	var dropped []*flight
	c.mu.Lock()
	for fk, f := range c.flights {
		if fk.tier != tier {
			continue
		}
		if fk.key == pattern || (isPrefix && strings.HasPrefix(fk.key, prefix)) {
			dropped = append(dropped, f)
			delete(c.flights, fk)
		}
	}
	c.mu.Unlock()
	for _, f := range dropped {
		f.mu.Lock()
		f.dropped = true
		f.mu.Unlock()
	}
}

func (c *Cache) save(ctx context.Context, tier Tier, key string, ttl time.Duration, value []byte) {
	if !c.breaker.Allow() {
		return
	}
	now := c.now()
	entry := store.Entry{
		Key:       key,
		Tier:      string(tier),
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.store.Set(ctx, entry, ttl+c.grace); err != nil {
		c.storeFailed(ctx, "set", err)
		return
	}
	c.storeSucceeded(ctx)
}

// lookup reads key from the store. storeOK is false when the store is
// unreachable or the breaker is open.
func (c *Cache) lookup(ctx context.Context, tier Tier, key string) (entry store.Entry, found, storeOK bool) {
	if !c.breaker.Allow() {
		return store.Entry{}, false, false
	}
	entry, err := c.store.Get(ctx, string(tier), key)
	switch {
	case err == nil:
		c.storeSucceeded(ctx)
		return entry, true, true
	case errors.Is(err, sentinel.ErrNotFound):
		c.storeSucceeded(ctx)
		return store.Entry{}, false, true
	default:
		c.storeFailed(ctx, "get", err)
		return store.Entry{}, false, false
	}
}

// Invalidate deletes entries of tier matching pattern: an exact key, or a
// prefix followed by "*". Loads of matching keys still running are not
// stored. It returns the number of keys removed.
func (c *Cache) Invalidate(ctx context.Context, tier Tier, pattern string) (int, error) {
	c.drop(tier, pattern)
	if !c.breaker.Allow() {
		return 0, ErrCacheUnavailable
	}

	var keys []string
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		all, err := c.store.Keys(ctx, string(tier))
		if err != nil {
			c.storeFailed(ctx, "keys", err)
			return 0, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
		}
		for _, k := range all {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
	} else {
		keys = []string{pattern}
	}

	if len(keys) == 0 {
		c.storeSucceeded(ctx)
		return 0, nil
	}
	if err := c.store.Delete(ctx, string(tier), keys...); err != nil {
		c.storeFailed(ctx, "delete", err)
		return 0, fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	c.storeSucceeded(ctx)
	c.metrics.Invalidations.WithLabelValues(string(tier)).Add(float64(len(keys)))
	c.logger.DebugContext(ctx, "cache invalidated", "tier", tier, "pattern", pattern, "keys", len(keys))
	return len(keys), nil
}

func (c *Cache) storeFailed(ctx context.Context, op string, err error) {
	c.metrics.StoreErrors.WithLabelValues(op).Inc()
	c.logger.WarnContext(ctx, "cache store unavailable, bypassing",
		"op", op,
		"error", fmt.Errorf("%w: %w", ErrCacheUnavailable, err),
	)
	if change := c.breaker.RecordFailure(); change.Opened {
		c.logger.ErrorContext(ctx, "cache store circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Cache) storeSucceeded(ctx context.Context) {
	if change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "cache store circuit closed", "breaker", c.breaker.Name())
	}
}
