package elastic

import "time"

const (
	bulkSize = 100

	// defaultIndex receives log entries when no index is configured.
	defaultIndex = "cityvisitorparking-logs"
)

type config struct {
	Url             string
	Index           string
	WriteBufferSize int
	FlushInterval   time.Duration
}

func newConfig(opts ...Option) *config {
	cfg := &config{
		Index:           defaultIndex,
		WriteBufferSize: 1024,
		FlushInterval:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures the Elasticsearch sink.
type Option func(*config)

func WithUrl(url string) Option {
	return func(c *config) {
		c.Url = url
	}
}

// WithIndex overrides the target index; empty keeps the default.
func WithIndex(index string) Option {
	return func(c *config) {
		if index != "" {
			c.Index = index
		}
	}
}

func WithWriteBufferSize(writeBufferSize int) Option {
	return func(c *config) {
		c.WriteBufferSize = writeBufferSize
	}
}

func WithFlushInterval(flushInterval time.Duration) Option {
	return func(c *config) {
		c.FlushInterval = flushInterval
	}
}
