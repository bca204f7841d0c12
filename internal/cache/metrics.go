package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultStale  = "stale"
	resultBypass = "bypass"
	resultError  = "error"
)

// Metrics for cache behaviour.
type Metrics struct {
	Requests      *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	StoreErrors   *prometheus.CounterVec
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide cache metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_cache_requests_total",
				Help: "Cache reads by tier and result (hit, miss, stale, bypass, error)",
			}, []string{"tier", "result"}),
			Invalidations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_cache_invalidations_total",
				Help: "Keys removed by invalidation",
			}, []string{"tier"}),
			StoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_cache_store_errors_total",
				Help: "Cache store operations that failed",
			}, []string{"op"}),
		}
	})
	return metricsInstance
}
