// Package metrics exposes a prometheus registry component with an HTTP
// /metrics endpoint, plus a no-op registry for when metrics are disabled.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config enables the metrics endpoint.
type Config struct {
	Enable bool `yaml:"enable"`
	Port   int  `yaml:"port"`
}

// MetricsRegistry is what components use to register their collectors.
type MetricsRegistry interface {
	GetRegistry() prometheus.Registerer
}

// Metrics owns the prometheus registry and the HTTP server exposing it.
type Metrics struct {
	wg         sync.WaitGroup
	metricsLgr *metricsErrorLogger
	server     *http.Server

	r *prometheus.Registry
}

// NewMetrics builds the metrics component; when disabled it returns a no-op
// registry so callers never branch.
func NewMetrics(lc fx.Lifecycle, c *Config, lgr *zap.SugaredLogger) (MetricsRegistry, error) {
	if c == nil || !c.Enable {
		return &NoopMetrics{}, nil
	}

	metrics := &Metrics{
		r: prometheus.NewRegistry(),
		metricsLgr: &metricsErrorLogger{
			lgr.With("component", "metrics"),
		},
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.r, promhttp.HandlerOpts{
		ErrorLog: metrics.metricsLgr,
		Registry: metrics.r,
	}))

	metrics.server = &http.Server{
		Addr:    ":" + strconv.Itoa(c.Port),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			metrics.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return metrics.Stop(ctx)
		},
	})

	return metrics, nil
}

func (m *Metrics) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.metricsLgr.Errorf("listen http server: %s", err.Error())
		}
	}()
}

func (m *Metrics) Stop(ctx context.Context) error {
	done := make(chan struct{})
	var err error
	go func() {
		err = m.server.Shutdown(context.Background())
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (m *Metrics) GetRegistry() prometheus.Registerer {
	return m.r
}

type metricsErrorLogger struct {
	*zap.SugaredLogger
}

func (m *metricsErrorLogger) Println(v ...interface{}) {
	m.Error(v...)
}
