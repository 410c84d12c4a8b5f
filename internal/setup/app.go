package setup

import (
	"go.uber.org/fx"

	"github.com/sir-Unknown/cityvisitorparking/internal/config"
	"github.com/sir-Unknown/cityvisitorparking/internal/livecheck"
	"github.com/sir-Unknown/cityvisitorparking/pkg/logger"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"
	"go.uber.org/zap"
)

// Components holds what the CLI needs after the fx graph is built.
type Components struct {
	Runner *livecheck.Runner
	Logger *zap.SugaredLogger
}

func Setup(configPath string, out *Components) (*fx.App, error) {
	cfg, err := config.ParseConfig(configPath)
	if err != nil {
		return nil, err
	}

	return fx.New(
		fx.NopLogger,
		fx.Provide(
			logger.NewLogger,
			metrics.NewMetrics,
			tracer.NewTracer,
			livecheck.NewRunner,
			func() *logger.Config {
				return cfg.LogConfig
			},
			func() *metrics.Config {
				return cfg.MetricsConfig
			},
			func() *tracer.Config {
				return cfg.TraceConfig
			},
			func() *livecheck.Config {
				return cfg.CheckConfig
			},
		),
		fx.Populate(&out.Runner, &out.Logger),
	), nil
}
