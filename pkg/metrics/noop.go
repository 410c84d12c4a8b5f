package metrics

import "github.com/prometheus/client_golang/prometheus"

// NoopMetrics satisfies MetricsRegistry without ever exposing an endpoint.
type NoopMetrics struct{}

func (n *NoopMetrics) GetRegistry() prometheus.Registerer {
	return &noopRegistry{}
}

type noopRegistry struct{}

func (r *noopRegistry) Register(prometheus.Collector) error { return nil }

func (r *noopRegistry) MustRegister(...prometheus.Collector) {}

func (r *noopRegistry) Unregister(prometheus.Collector) bool { return true }
