// Package cache provides a lazily rebuilt single-value cache with a TTL,
// used for provider manifest discovery results.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sir-Unknown/cityvisitorparking/pkg/logger"
)

// LoadFunc builds the cached value. It runs on a separate goroutine so the
// caller's wait stays cancellable.
type LoadFunc[V any] func(ctx context.Context) (V, error)

// Lazy caches one value and rebuilds it on demand once the TTL elapses.
// All methods are safe for concurrent use; readers waiting on a rebuild are
// serialized behind the same load.
type Lazy[V any] struct {
	mu        sync.Mutex
	load      LoadFunc[V]
	value     V
	loaded    bool
	expiresAt time.Time
	cfg       config
	collector *metricsCollector
}

// NewLazy returns a cache around load. The default TTL is five minutes; a
// non-positive TTL keeps the value until Clear or Refresh.
func NewLazy[V any](load LoadFunc[V], opts ...Option) *Lazy[V] {
	cfg := config{
		Name: "default",
		TTL:  5 * time.Minute,
		Now:  time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Lazy[V]{load: load, cfg: cfg}
	if cfg.Registry != nil {
		if collector, err := sharedCollector(cfg.Registry); err == nil {
			l.collector = collector
		}
	}
	return l
}

// Get returns the cached value, rebuilding it first when absent or expired.
func (l *Lazy[V]) Get(ctx context.Context) (V, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded && (l.cfg.TTL <= 0 || l.cfg.Now().Before(l.expiresAt)) {
		l.collector.hit(l.cfg.Name)
		return l.value, nil
	}
	l.collector.miss(l.cfg.Name)
	return l.reloadLocked(ctx)
}

// Refresh rebuilds the value regardless of freshness.
func (l *Lazy[V]) Refresh(ctx context.Context) (V, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reloadLocked(ctx)
}

// Clear drops the cached value; the next Get reloads.
func (l *Lazy[V]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero V
	l.value = zero
	l.loaded = false
	l.expiresAt = time.Time{}
}

func (l *Lazy[V]) reloadLocked(ctx context.Context) (V, error) {
	type outcome struct {
		value V
		err   error
	}
	started := l.cfg.Now()
	done := make(chan outcome, 1)
	go func() {
		v, err := l.load(ctx)
		done <- outcome{value: v, err: err}
	}()

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case out := <-done:
		if out.err != nil {
			l.collector.loadError(l.cfg.Name)
			logger.FromContext(ctx).Desugar().Debug("cache reload failed",
				zap.String("cache_name", l.cfg.Name),
				zap.Error(out.err),
			)
			return zero, out.err
		}
		l.value = out.value
		l.loaded = true
		l.expiresAt = l.cfg.Now().Add(l.cfg.TTL)
		l.collector.reload(l.cfg.Name, l.cfg.Now().Sub(started))
		return out.value, nil
	}
}
