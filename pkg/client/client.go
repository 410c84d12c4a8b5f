// Package client is the facade consumers use: provider discovery through
// the embedded manifests and construction of guarded provider instances
// sharing one HTTP session.
package client

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/metrics"
	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
	"github.com/sir-Unknown/cityvisitorparking/pkg/provider"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"

	// Provider drivers register themselves; importing them here is what
	// makes them constructable. Discovery works without these imports.
	_ "github.com/sir-Unknown/cityvisitorparking/pkg/provider/amsterdam"
	_ "github.com/sir-Unknown/cityvisitorparking/pkg/provider/dvsportal"
	_ "github.com/sir-Unknown/cityvisitorparking/pkg/provider/thehague"
)

// Client discovers providers and builds instances against one HTTP session.
type Client struct {
	loader *provider.Loader

	mu          sync.Mutex
	session     *http.Client
	ownsSession bool

	baseURL    string
	apiURI     string
	timeout    time.Duration
	retryCount int
	lgr        *zap.SugaredLogger
	trc        *tracer.Tracer
	registry   metrics.MetricsRegistry
}

type Option func(*Client)

// WithSession injects a shared HTTP session. The client never closes an
// injected session.
func WithSession(session *http.Client) Option {
	return func(c *Client) {
		c.session = session
		c.ownsSession = false
	}
}

// WithBaseURL sets the default portal base URL for built providers.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithAPIURI overrides the provider's default API prefix.
func WithAPIURI(apiURI string) Option {
	return func(c *Client) { c.apiURI = apiURI }
}

// WithTimeout bounds each portal request. Defaults to thirty seconds.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// WithRetryCount sets how many extra attempts idempotent GETs get.
func WithRetryCount(count int) Option {
	return func(c *Client) { c.retryCount = count }
}

// WithLoader replaces the default embedded-manifest loader.
func WithLoader(loader *provider.Loader) Option {
	return func(c *Client) { c.loader = loader }
}

// WithLogger attaches a logger handed down to built providers.
func WithLogger(lgr *zap.SugaredLogger) Option {
	return func(c *Client) { c.lgr = lgr }
}

// WithTracer attaches the tracing component.
func WithTracer(trc *tracer.Tracer) Option {
	return func(c *Client) { c.trc = trc }
}

// WithMetrics attaches a registry for cache and request collectors.
func WithMetrics(registry metrics.MetricsRegistry) Option {
	return func(c *Client) { c.registry = registry }
}

// New builds a client. Without WithSession the client creates and owns its
// session, including the cookie jar some portals need.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		ownsSession: true,
		timeout:     provider.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		loaderOpts := []provider.LoaderOption{}
		if c.registry != nil {
			loaderOpts = append(loaderOpts, provider.WithLoaderMetrics(c.registry))
		}
		c.loader = provider.NewLoader(provider.ManifestFS(), loaderOpts...)
	}
	return c, nil
}

// ListProviders returns discovery metadata for every valid manifest.
func (c *Client) ListProviders(ctx context.Context) ([]models.ProviderInfo, error) {
	return c.loader.Providers(ctx)
}

// GetProvider looks up a manifest and builds its guarded driver, sharing
// the client session.
func (c *Client) GetProvider(ctx context.Context, id string) (provider.API, error) {
	if id == "" {
		return nil, errs.Provider("provider id is required")
	}
	manifest, err := c.loader.Manifest(ctx, id)
	if err != nil {
		return nil, err
	}
	session, err := c.ensureSession()
	if err != nil {
		return nil, err
	}
	return provider.New(manifest, provider.Options{
		Session:    session,
		BaseURL:    c.baseURL,
		APIURI:     c.apiURI,
		Timeout:    c.timeout,
		RetryCount: c.retryCount,
		Logger:     c.lgr,
		Tracer:     c.trc,
		Registry:   c.registry,
	})
}

// RefreshProviders forces a manifest re-read regardless of cache freshness.
func (c *Client) RefreshProviders(ctx context.Context) error {
	return c.loader.Refresh(ctx)
}

// Close releases the owned session. Injected sessions are left untouched.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ownsSession && c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
	}
}

func (c *Client) ensureSession() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	if !c.ownsSession {
		return nil, errs.Validation("http session is required")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errs.Provider("cookie jar could not be created").WithCause(err)
	}
	c.session = &http.Client{Jar: jar}
	return c.session, nil
}
