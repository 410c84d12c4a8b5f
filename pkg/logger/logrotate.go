package logger

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"

	"go.uber.org/zap"
)

type rotatingSink struct {
	path     string
	notifier chan os.Signal
	file     atomic.Pointer[os.File]
}

// NewLogrotateSink opens path for appending and reopens it whenever one of
// the given signals arrives, so external logrotate can move the file away.
func NewLogrotateSink(path string, sig ...os.Signal) (zap.Sink, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is empty")
	}

	notifier := make(chan os.Signal, 1)
	signal.Notify(notifier, sig...)

	s := &rotatingSink{
		path:     path,
		notifier: notifier,
	}
	if err := s.reopen(); err != nil {
		signal.Stop(notifier)
		return nil, err
	}
	go s.listenToSignal()
	return s, nil
}

func (s *rotatingSink) listenToSignal() {
	for range s.notifier {
		if err := s.reopen(); err != nil {
			fallbackLogger.Errorf("%s", err)
		}
	}
}

func (s *rotatingSink) reopen() error {
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file on %s: %w", s.path, err)
	}
	old := s.file.Swap(file)
	if old != nil {
		if err := old.Close(); err != nil {
			return fmt.Errorf("failed to close old file: %w", err)
		}
	}
	return nil
}

func (s *rotatingSink) Write(p []byte) (int, error) {
	return s.file.Load().Write(p)
}

func (s *rotatingSink) Sync() error {
	return s.file.Load().Sync()
}

func (s *rotatingSink) Close() error {
	signal.Stop(s.notifier)
	close(s.notifier)
	return s.file.Load().Close()
}
