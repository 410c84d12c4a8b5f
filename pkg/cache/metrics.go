package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
)

var (
	collector     *metricsCollector
	collectorErr  error
	initCollector sync.Once
)

type metricsCollector struct {
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheReloads   *prometheus.CounterVec
	cacheErrors    *prometheus.CounterVec
	reloadDuration *prometheus.HistogramVec
}

// sharedCollector registers the cache collectors once per process; all Lazy
// instances share them, distinguished by the cache_name label.
func sharedCollector(registry metrics.MetricsRegistry) (*metricsCollector, error) {
	initCollector.Do(func() {
		c := &metricsCollector{
			cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_hits",
				Help: "The number of cache hits",
			}, []string{"cache_name"}),
			cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_misses",
				Help: "The number of cache misses",
			}, []string{"cache_name"}),
			cacheReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_reloads",
				Help: "The number of cache reloads",
			}, []string{"cache_name"}),
			cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cache_errors",
				Help: "The number of failed cache reloads",
			}, []string{"cache_name"}),
			reloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name: "cache_reload_duration_seconds",
				Help: "The duration of cache reloads",
			}, []string{"cache_name"}),
		}

		r := registry.GetRegistry()
		collectorErr = errors.Join(
			r.Register(c.cacheHits),
			r.Register(c.cacheMisses),
			r.Register(c.cacheReloads),
			r.Register(c.cacheErrors),
			r.Register(c.reloadDuration),
		)
		if collectorErr == nil {
			collector = c
		}
	})
	return collector, collectorErr
}

func (c *metricsCollector) hit(name string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(name).Inc()
}

func (c *metricsCollector) miss(name string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(name).Inc()
}

func (c *metricsCollector) loadError(name string) {
	if c == nil {
		return
	}
	c.cacheErrors.WithLabelValues(name).Inc()
}

func (c *metricsCollector) reload(name string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.cacheReloads.WithLabelValues(name).Inc()
	c.reloadDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}
