package retry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for upstream attempts.
type Metrics struct {
	Attempts  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Exhausted *prometheus.CounterVec
	Admission prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide retry metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Attempts: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_upstream_attempts_total",
				Help: "Upstream HTTP attempts by operation and outcome",
			}, []string{"op", "outcome"}),
			Retries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_upstream_retries_total",
				Help: "Upstream retries by operation and reason",
			}, []string{"op", "reason"}),
			Exhausted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_upstream_retry_exhausted_total",
				Help: "Calls that ran out of attempts, by operation and last reason",
			}, []string{"op", "reason"}),
			Admission: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cargolink_upstream_admission_wait_seconds",
				Help:    "Time spent waiting for a rate limiter token",
				Buckets: []float64{0, .005, .01, .05, .1, .25, .5, 1, 2, 5},
			}),
		}
	})
	return metricsInstance
}
