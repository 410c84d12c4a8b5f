package provider

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/sir-Unknown/cityvisitorparking/pkg/cache"
	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
)

// DefaultManifestTTL bounds how long a discovery snapshot is reused before
// manifests are re-read.
const DefaultManifestTTL = 5 * time.Minute

// snapshot is one discovery pass over the manifest tree. A manifest that
// fails validation lands in broken under its directory name so the rest of
// the providers stay listable.
type snapshot struct {
	manifests []Manifest
	broken    map[string]error
}

// Loader discovers provider manifests from a filesystem and caches the
// result. The zero TTL constant semantics follow cache.Lazy.
type Loader struct {
	fsys fs.FS
	lazy *cache.Lazy[snapshot]
}

type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	ttl      time.Duration
	registry metrics.MetricsRegistry
	clock    func() time.Time
}

// WithManifestTTL overrides the snapshot TTL.
func WithManifestTTL(ttl time.Duration) LoaderOption {
	return func(c *loaderConfig) { c.ttl = ttl }
}

// WithLoaderMetrics registers cache counters on the given registry.
func WithLoaderMetrics(registry metrics.MetricsRegistry) LoaderOption {
	return func(c *loaderConfig) { c.registry = registry }
}

// WithLoaderClock replaces the wall clock, used by tests to expire snapshots.
func WithLoaderClock(now func() time.Time) LoaderOption {
	return func(c *loaderConfig) { c.clock = now }
}

// NewLoader builds a loader over fsys. Pass ManifestFS() for the embedded
// manifests shipped with this module.
func NewLoader(fsys fs.FS, opts ...LoaderOption) *Loader {
	cfg := loaderConfig{ttl: DefaultManifestTTL}
	for _, opt := range opts {
		opt(&cfg)
	}

	l := &Loader{fsys: fsys}

	cacheOpts := []cache.Option{
		cache.WithName("provider_manifests"),
		cache.WithTTL(cfg.ttl),
	}
	if cfg.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(cfg.registry))
	}
	if cfg.clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(cfg.clock))
	}
	l.lazy = cache.NewLazy(l.scan, cacheOpts...)

	return l
}

// scan walks the manifest filesystem once. It never fails the whole pass on
// a single bad manifest; those are recorded and surfaced when the matching
// provider id is requested.
func (l *Loader) scan(_ context.Context) (snapshot, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return snapshot{}, errs.Provider("provider manifests are not readable").WithCause(err)
	}

	snap := snapshot{broken: map[string]error{}}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := entry.Name()
		raw, err := fs.ReadFile(l.fsys, dir+"/"+manifestFilename)
		if err != nil {
			// A provider directory without a manifest is not a provider.
			continue
		}
		m, err := parseManifest(raw, dir)
		if err != nil {
			snap.broken[dir] = err
			continue
		}
		snap.manifests = append(snap.manifests, m)
	}

	sort.Slice(snap.manifests, func(i, j int) bool {
		return snap.manifests[i].ID < snap.manifests[j].ID
	})

	return snap, nil
}

// Manifests returns all valid manifests from the cached snapshot.
func (l *Loader) Manifests(ctx context.Context) ([]Manifest, error) {
	snap, err := l.lazy.Get(ctx)
	if err != nil {
		return nil, err
	}
	return append([]Manifest(nil), snap.manifests...), nil
}

// Manifest returns the manifest for one provider id. Requesting an id whose
// manifest failed validation surfaces that validation failure.
func (l *Loader) Manifest(ctx context.Context, id string) (Manifest, error) {
	snap, err := l.lazy.Get(ctx)
	if err != nil {
		return Manifest{}, err
	}
	for _, m := range snap.manifests {
		if m.ID == id {
			return m, nil
		}
	}
	if brokenErr, ok := snap.broken[id]; ok {
		return Manifest{}, errs.Provider(fmt.Sprintf("provider %q has an invalid manifest", id)).WithCause(brokenErr)
	}
	return Manifest{}, errs.Provider(fmt.Sprintf("provider %q not found", id))
}

// Providers returns ProviderInfo entries for every valid manifest.
func (l *Loader) Providers(ctx context.Context) ([]models.ProviderInfo, error) {
	manifests, err := l.Manifests(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]models.ProviderInfo, 0, len(manifests))
	for _, m := range manifests {
		infos = append(infos, m.Info())
	}
	return infos, nil
}

// Refresh re-reads manifests regardless of snapshot freshness.
func (l *Loader) Refresh(ctx context.Context) error {
	_, err := l.lazy.Refresh(ctx)
	return err
}

// Clear drops the cached snapshot; the next call re-reads manifests.
func (l *Loader) Clear() {
	l.lazy.Clear()
}
