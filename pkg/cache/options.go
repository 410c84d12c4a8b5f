package cache

import (
	"time"

	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
)

type config struct {
	Name     string
	TTL      time.Duration
	Now      func() time.Time
	Registry metrics.MetricsRegistry
}

// Option configures a Lazy cache.
type Option func(*config)

// WithName labels the cache in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.Name = name
	}
}

// WithTTL sets the freshness window. A non-positive TTL keeps the value
// until Clear or Refresh.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) {
		c.TTL = ttl
	}
}

// WithClock overrides the time source, used by tests to step past the TTL.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.Now = now
	}
}

// WithMetrics registers cache collectors on the given registry.
func WithMetrics(registry metrics.MetricsRegistry) Option {
	return func(c *config) {
		c.Registry = registry
	}
}
