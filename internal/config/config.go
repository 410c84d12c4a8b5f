package config

import (
	"github.com/sir-Unknown/cityvisitorparking/internal/livecheck"
	"github.com/sir-Unknown/cityvisitorparking/pkg/logger"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"
)

type Config struct {
	LogConfig     *logger.Config    `yaml:"logger"`
	MetricsConfig *metrics.Config   `yaml:"metrics"`
	TraceConfig   *tracer.Config    `yaml:"tracer"`
	CheckConfig   *livecheck.Config `yaml:"check"`
}
