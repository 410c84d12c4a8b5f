package provider

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
)

// requestCollector tracks outbound portal requests. Registered once per
// registry; every Base built against the same registry shares it.
type requestCollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	collectorOnce sync.Once
	collector     *requestCollector
	collectorErr  error
)

func sharedRequestCollector(registry metrics.MetricsRegistry) (*requestCollector, error) {
	collectorOnce.Do(func() {
		c := &requestCollector{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "provider_http_requests_total",
				Help: "Outbound provider portal requests by result.",
			}, []string{"provider", "method", "status"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "provider_http_request_duration_seconds",
				Help:    "Outbound provider portal request latency.",
				Buckets: prometheus.DefBuckets,
			}, []string{"provider", "method"}),
		}
		for _, col := range []prometheus.Collector{c.requests, c.duration} {
			if err := registry.GetRegistry().Register(col); err != nil {
				collectorErr = err
				return
			}
		}
		collector = c
	})
	return collector, collectorErr
}

func (c *requestCollector) observe(provider, method string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	c.requests.WithLabelValues(provider, method, code).Inc()
	c.duration.WithLabelValues(provider, method).Observe(elapsed.Seconds())
}
