package webhook

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for webhook processing.
type Metrics struct {
	Deliveries      *prometheus.CounterVec
	Duration        prometheus.Histogram
	PublishFailures prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide webhook metrics.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Deliveries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "cargolink_billing_webhooks_total",
				Help: "Payment webhook deliveries by outcome",
			}, []string{"outcome"}),
			Duration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "cargolink_billing_webhook_duration_seconds",
				Help:    "Time to verify and apply a payment webhook",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			}),
			PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "cargolink_billing_activation_publish_failures_total",
				Help: "Activation notifications that could not be published",
			}),
		}
	})
	return metricsInstance
}
