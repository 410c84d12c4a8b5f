// Package logger builds the zap logger used across the library and the
// live-check tool, with stdout, rotating file and Elasticsearch transports.
// Library code obtains its logger from the context (FromContext); the
// fallback logger is used when none was attached.
package logger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var fallbackLogger *zap.SugaredLogger

func init() {
	fallbackLogger = newFallbackLogger()
}

// FallbackLogger returns the stdout logger used when no logger is configured
// or attached to a context.
func FallbackLogger() *zap.SugaredLogger {
	return fallbackLogger
}

// NewLogger builds the configured logger and registers transport shutdown on
// the fx lifecycle.
func NewLogger(lc fx.Lifecycle, cfg *Config) (*zap.SugaredLogger, error) {
	if cfg == nil || cfg.LogLevel == "" || cfg.Transport == "" {
		return nil, fmt.Errorf("invalid logger configuration, required: log_level, transport")
	}

	info, err := enrichLoggerInfo(cfg)
	if err != nil {
		return nil, err
	}

	var (
		cores []zapcore.Core
		stops []func()
	)
	for _, name := range strings.Split(cfg.Transport, "+") {
		t, err := buildTransport(strings.TrimSpace(name), info)
		if err != nil {
			return nil, fmt.Errorf("logger transport %q: %w", name, err)
		}
		cores = append(cores, t.core)
		stops = append(stops, t.stop)
	}

	lgr := zap.New(zapcore.NewTee(cores...), info.opts...).Sugar()

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			for _, stop := range stops {
				stop()
			}
			return nil
		},
	})

	return lgr, nil
}

func newFallbackLogger() *zap.SugaredLogger {
	info, err := enrichLoggerInfo(&Config{
		LogLevel:   "info",
		Transport:  stdoutTransport,
		EncodeTime: "ISO8601TimeEncoder",
		DevMode:    true,
	})
	if err != nil {
		panic(err)
	}
	t, err := buildTransport(stdoutTransport, info)
	if err != nil {
		panic(err)
	}
	return zap.New(t.core).Sugar()
}

type loggerInfo struct {
	cfg    *Config
	encCfg zapcore.EncoderConfig
	lvl    zap.AtomicLevel
	opts   []zap.Option
}

func enrichLoggerInfo(cfg *Config) (*loggerInfo, error) {
	info := &loggerInfo{
		cfg:  cfg,
		opts: []zap.Option{},
	}

	info.encCfg = zap.NewProductionEncoderConfig()
	switch cfg.EncodeTime {
	case "RFC3339TimeEncoder":
		info.encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	default:
		info.encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	info.lvl = zap.NewAtomicLevel()
	if err := info.lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, err
	}

	return info, nil
}
