package logger

import (
	"fmt"
	"os"
	"syscall"

	"github.com/mattn/go-isatty"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	elasticsink "github.com/sir-Unknown/cityvisitorparking/pkg/logger/elastic"
)

const (
	stdoutTransport  = "stdout"
	fileTransport    = "file"
	elasticTransport = "elastic"
)

type transport struct {
	core zapcore.Core
	stop func()
}

func buildTransport(name string, info *loggerInfo) (*transport, error) {
	switch name {
	case stdoutTransport:
		return getStdoutTransport(info), nil
	case fileTransport:
		return getFileTransport(info)
	case elasticTransport:
		return getElasticTransport(info)
	default:
		return nil, fmt.Errorf("unknown transport")
	}
}

func getStdoutTransport(info *loggerInfo) *transport {
	sink := zapcore.AddSync(os.Stdout)

	var encoder zapcore.Encoder
	if info.cfg.DevMode {
		if isatty.IsTerminal(os.Stdout.Fd()) {
			info.encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(info.encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(info.encCfg)
	}

	return &transport{
		core: zapcore.NewCore(encoder, sink, info.lvl),
		stop: func() {},
	}
}

func getFileTransport(info *loggerInfo) (*transport, error) {
	if info.cfg.FilePath == "" {
		return nil, fmt.Errorf("no file path specified")
	}

	sink, err := NewLogrotateSink(info.cfg.FilePath, syscall.SIGUSR1)
	if err != nil {
		return nil, fmt.Errorf("failed to open logrotate sink: %w", err)
	}

	return &transport{
		core: zapcore.NewCore(zapcore.NewJSONEncoder(info.encCfg), sink, info.lvl),
		stop: func() {
			if err := sink.Close(); err != nil {
				fallbackLogger.Error("failed to close sink", zap.Error(err))
			}
		},
	}, nil
}

// getElasticTransport ships ECS-encoded JSON documents to Elasticsearch in
// bulk batches.
func getElasticTransport(info *loggerInfo) (*transport, error) {
	cfg := info.cfg.ElasticConfig
	if cfg == nil || cfg.Url == "" || cfg.Index == "" {
		return nil, fmt.Errorf("elastic transport requires url and index")
	}

	sink, err := elasticsink.NewElasticSink(fallbackLogger,
		elasticsink.WithUrl(cfg.Url),
		elasticsink.WithIndex(cfg.Index),
		elasticsink.WithWriteBufferSize(cfg.WriteBufferSize),
		elasticsink.WithFlushInterval(cfg.FlushInterval),
	)
	if err != nil {
		return nil, err
	}

	encoder := zapcore.NewJSONEncoder(ecszap.ECSCompatibleEncoderConfig(info.encCfg))
	return &transport{
		core: ecszap.WrapCore(zapcore.NewCore(encoder, zapcore.AddSync(sink), info.lvl)),
		stop: func() {
			if err := sink.Close(); err != nil {
				fallbackLogger.Error("failed to close elastic sink", zap.Error(err))
			}
		},
	}, nil
}
