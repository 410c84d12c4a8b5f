package tracer

import (
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config enables OTLP span export. When disabled the component installs a
// noop provider so portal call sites never branch on tracing.
type Config struct {
	Enabled                   bool               `yaml:"enabled"`
	DisableBaggagePropagation bool               `yaml:"disable_baggage_propagation"`
	Url                       string             `yaml:"url"`
	BatchSpanProcessor        BatchSpanProcessor `yaml:"batch_span_processor"`
}

// BatchSpanProcessor bounds the export queue so a slow collector cannot
// back-pressure portal HTTP calls.
type BatchSpanProcessor struct {
	MaxQueueSize       int           `yaml:"max_queue_size"`
	MaxExportBatchSize int           `yaml:"max_export_batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	ExportTimeout      time.Duration `yaml:"export_timeout"`
}

func (b BatchSpanProcessor) options() []sdktrace.BatchSpanProcessorOption {
	return []sdktrace.BatchSpanProcessorOption{
		sdktrace.WithMaxQueueSize(b.MaxQueueSize),
		sdktrace.WithBatchTimeout(b.BatchTimeout),
		sdktrace.WithExportTimeout(b.ExportTimeout),
		sdktrace.WithMaxExportBatchSize(b.MaxExportBatchSize),
	}
}
