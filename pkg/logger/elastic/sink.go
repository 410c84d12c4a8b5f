// Package elastic ships log entries to Elasticsearch through a buffered bulk
// writer, used as an optional logger transport.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/olivere/elastic/v7"
	"go.uber.org/zap"
)

type fallbackLogger struct {
	*zap.SugaredLogger
}

func (l *fallbackLogger) Printf(format string, args ...interface{}) {
	l.Infof(format, args...)
}

// ElasticSink buffers encoded log entries and indexes them in bulk. Write
// never blocks on the network; entries are drained by a background goroutine.
type ElasticSink struct {
	client      *elastic.Client
	bulk        *elastic.BulkService
	cfg         *config
	fallbackLgr *fallbackLogger

	entries  chan []byte
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewElasticSink connects to the cluster, verifies it responds and starts the
// background drain loop.
func NewElasticSink(fallback *zap.SugaredLogger, opts ...Option) (*ElasticSink, error) {
	cfg := newConfig(opts...)
	fallbackLgr := &fallbackLogger{fallback}

	client, err := elastic.NewClient(
		elastic.SetURL(cfg.Url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(true),
		elastic.SetErrorLog(fallbackLgr),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, err := client.Ping(cfg.Url).Do(ctx); err != nil {
		return nil, err
	}

	s := &ElasticSink{
		client:      client,
		bulk:        client.Bulk().Index(cfg.Index),
		cfg:         cfg,
		fallbackLgr: fallbackLgr,
		entries:     make(chan []byte, cfg.WriteBufferSize),
		done:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.process()

	return s, nil
}

func (s *ElasticSink) Write(p []byte) (int, error) {
	select {
	case s.entries <- bytes.Clone(p):
		if len(s.entries) == cap(s.entries) {
			s.fallbackLgr.Warn("log buffer for elasticsearch overflow")
		}
		return len(p), nil
	case <-s.done:
		return 0, fmt.Errorf("writer is closed")
	}
}

func (s *ElasticSink) Sync() error {
	select {
	case <-s.done:
		return fmt.Errorf("writer is closed")
	default:
	}
	s.flush()
	return nil
}

func (s *ElasticSink) Close() error {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		close(s.entries)
	})
	return nil
}

func (s *ElasticSink) process() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-s.entries:
			s.enqueue(entry)
			if s.bulk.NumberOfActions() >= bulkSize {
				s.flush()
			}
		case <-ticker.C:
			if s.bulk.NumberOfActions() > 0 {
				s.flush()
			}
		case <-s.done:
			for len(s.entries) > 0 {
				s.enqueue(<-s.entries)
			}
			s.flush()
			return
		}
	}
}

func (s *ElasticSink) enqueue(entry []byte) {
	var doc map[string]interface{}
	if err := json.Unmarshal(entry, &doc); err != nil {
		return
	}
	if _, exists := doc["@timestamp"]; !exists {
		doc["@timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	s.bulk.Add(elastic.NewBulkIndexRequest().Doc(doc))
}

func (s *ElasticSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.bulk.Do(ctx); err != nil {
		s.fallbackLgr.Errorf("failed to flush log entries to elasticsearch: %s", err)
	}
}
