package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"cargolink/internal/platform/config"
)

type poolMetrics struct {
	hits       prometheus.Counter
	misses     prometheus.Counter
	timeouts   prometheus.Counter
	staleConns prometheus.Counter
	totalConns prometheus.Gauge
	idleConns  prometheus.Gauge
}

var (
	poolMetricsOnce     sync.Once
	poolMetricsInstance *poolMetrics
)

func newPoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolMetricsInstance = &poolMetrics{
			hits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_redis_pool_hits_total",
				Help: "Number of times a connection was found in the pool",
			}),
			misses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_redis_pool_misses_total",
				Help: "Number of times a connection was not found in the pool",
			}),
			timeouts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_redis_pool_timeouts_total",
				Help: "Number of times a connection was not obtained due to timeout",
			}),
			staleConns: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_redis_pool_stale_conns_total",
				Help: "Number of stale connections removed from the pool",
			}),
			totalConns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cargolink_redis_pool_total_conns",
				Help: "Number of total connections in the pool",
			}),
			idleConns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "cargolink_redis_pool_idle_conns",
				Help: "Number of idle connections in the pool",
			}),
		}
	})
	return poolMetricsInstance
}

// Client wraps the go-redis client backing the shared cache store.
type Client struct {
	*redis.Client
	metrics   *poolMetrics
	lastStats *redis.PoolStats
}

// New connects to Redis. It returns (nil, nil) when no URL is configured,
// in which case callers fall back to the in-process cache store.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client, metrics: newPoolMetrics()}, nil
}

// Health checks if the Redis connection is healthy.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RecordPoolStats publishes pool statistics as deltas since the last call.
func (c *Client) RecordPoolStats() {
	stats := c.PoolStats()
	m := c.metrics

	m.totalConns.Set(float64(stats.TotalConns))
	m.idleConns.Set(float64(stats.IdleConns))

	var prev redis.PoolStats
	if c.lastStats != nil {
		prev = *c.lastStats
	}
	addDelta(m.hits, stats.Hits, prev.Hits)
	addDelta(m.misses, stats.Misses, prev.Misses)
	addDelta(m.timeouts, stats.Timeouts, prev.Timeouts)
	addDelta(m.staleConns, stats.StaleConns, prev.StaleConns)

	c.lastStats = stats
}

func addDelta(c prometheus.Counter, cur, prev uint32) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}

// ReportPoolStats records pool statistics every interval until ctx ends.
func (c *Client) ReportPoolStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RecordPoolStats()
		}
	}
}
