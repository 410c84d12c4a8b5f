package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
	"github.com/sir-Unknown/cityvisitorparking/pkg/tracer"
)

// DefaultTimeout bounds a single portal request when no timeout is set.
const DefaultTimeout = 30 * time.Second

const retryAfterHeader = "Retry-After"

// maxResponseBytes caps how much of a portal response is read. The portals
// serve small JSON documents; anything larger is not an answer we want.
const maxResponseBytes = 4 << 20

// Base carries the HTTP plumbing shared by every driver: URL building,
// timeouts, status-to-error mapping, bounded GET retries, rate-limit
// cool-downs, tracing and request metrics. Drivers embed it.
type Base struct {
	session    *http.Client
	manifest   Manifest
	baseURL    string
	apiURI     string
	timeout    time.Duration
	retryCount int

	lgr       *zap.SugaredLogger
	trc       *tracer.Tracer
	collector *requestCollector

	// sleep is replaced by tests so rate-limit cool-downs do not stall them.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBase validates and normalizes the shared options. The session is
// required; ownership stays with the caller.
func NewBase(opts Options) (*Base, error) {
	if opts.Session == nil {
		return nil, errs.Validation("http session is required")
	}
	baseURL, err := normalizeBaseURL(opts.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retryCount := opts.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	lgr := opts.Logger
	if lgr == nil {
		lgr = zap.NewNop().Sugar()
	}
	trc := opts.Tracer
	if trc == nil {
		trc = tracer.NewNoopTracer()
	}

	b := &Base{
		session:    opts.Session,
		manifest:   opts.Manifest,
		baseURL:    baseURL,
		apiURI:     normalizeAPIURI(opts.APIURI),
		timeout:    timeout,
		retryCount: retryCount,
		lgr:        lgr.With("provider", opts.Manifest.ID),
		trc:        trc,
		sleep:      sleepContext,
	}
	if opts.Registry != nil {
		if c, err := sharedRequestCollector(opts.Registry); err == nil {
			b.collector = c
		}
	}
	return b, nil
}

func (b *Base) Manifest() Manifest { return b.manifest }

func (b *Base) Logger() *zap.SugaredLogger { return b.lgr }

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	return strings.TrimRight(trimmed, "/"), nil
}

func normalizeAPIURI(raw string) string {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// BuildURL joins the base URL, API URI and a relative path. Absolute paths
// are rejected so drivers cannot accidentally escape the configured portal.
func (b *Base) BuildURL(path string) (string, error) {
	if path == "" {
		return "", errs.Validation("request path is required")
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return "", errs.Validation("request paths must be relative")
	}
	if b.baseURL == "" {
		return "", errs.Validation("base_url is required to build provider requests")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return b.baseURL + b.apiURI + path, nil
}

// Request describes one portal call.
type Request struct {
	Method string
	Path   string
	// Body is JSON-encoded when non-nil.
	Body    any
	Headers http.Header
	Query   url.Values
	// BasicAuth, when set, is applied as an Authorization header.
	BasicAuth *BasicAuth
	// ErrorFromBody lets a driver turn an error response body into a more
	// specific error than the default status mapping. Returning nil keeps
	// the default.
	ErrorFromBody func(status int, body []byte) error
}

type BasicAuth struct {
	Username string
	Password string
}

// DoJSON performs the request and decodes the JSON response into out. A nil
// out discards the body after the status check.
func (b *Base) DoJSON(ctx context.Context, req Request, out any) error {
	body, err := b.do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.Provider("response did not contain valid JSON").WithCause(err)
	}
	return nil
}

// DoText performs the request and returns the raw response body.
func (b *Base) DoText(ctx context.Context, req Request) (string, error) {
	body, err := b.do(ctx, req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (b *Base) do(ctx context.Context, req Request) ([]byte, error) {
	target, err := b.BuildURL(req.Path)
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)

	var payload []byte
	if req.Body != nil {
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return nil, errs.Validation("request body is not serializable").WithCause(err)
		}
	}

	ctx, span := b.trc.StartSpan(ctx, method+" "+req.Path)
	defer span.End()
	span.SetAttributes(
		attribute.String("provider.id", b.manifest.ID),
		attribute.String("http.request.method", method),
		attribute.String("url.path", tracer.TraceSafeString(req.Path)),
	)

	// Only idempotent GETs are retried; everything else gets one attempt.
	attempts := 1
	if method == http.MethodGet {
		attempts += b.retryCount
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, err := b.attempt(ctx, method, target, req, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		retry, waitErr := b.shouldRetry(ctx, method, err, attempt, attempts)
		if waitErr != nil {
			return nil, waitErr
		}
		if !retry {
			return nil, err
		}
	}
	return nil, lastErr
}

// attempt runs a single HTTP exchange.
func (b *Base) attempt(ctx context.Context, method, target string, req Request, payload []byte) ([]byte, error) {
	started := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, bodyReader)
	if err != nil {
		return nil, errs.Validation("request could not be built").WithCause(err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "cityvisitorparking/"+b.manifest.ID)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for key, values := range req.Headers {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}

	resp, err := b.session.Do(httpReq)
	if err != nil {
		b.collector.observe(b.manifest.ID, method, 0, time.Since(started))
		return nil, errs.Network("network request failed", err)
	}
	defer resp.Body.Close()

	b.collector.observe(b.manifest.ID, method, resp.StatusCode, time.Since(started))
	b.lgr.Debugw("portal request",
		"method", method,
		"path", req.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := parseRetryAfter(resp.Header.Get(retryAfterHeader))
		return nil, &rateLimitError{delay: delay}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errs.Auth("authentication failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if req.ErrorFromBody != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			if mapped := req.ErrorFromBody(resp.StatusCode, body); mapped != nil {
				return nil, mapped
			}
		}
		return nil, errs.Provider(fmt.Sprintf("provider request failed with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errs.Network("network request failed", err)
	}
	return body, nil
}

// shouldRetry decides whether the failed attempt may be repeated and honors
// the server's rate-limit cool-down before a 429 retry.
func (b *Base) shouldRetry(ctx context.Context, method string, cause error, attempt, attempts int) (bool, error) {
	last := attempt >= attempts-1

	var limited *rateLimitError
	if errors.As(cause, &limited) {
		if method != http.MethodGet || last {
			return false, errs.Provider("provider rate limit exceeded")
		}
		if limited.delay > 0 {
			if err := b.sleep(ctx, limited.delay); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if errs.IsNetwork(cause) {
		return method == http.MethodGet && !last, nil
	}
	return false, nil
}

type rateLimitError struct {
	delay time.Duration
}

func (e *rateLimitError) Error() string {
	return "provider rate limit exceeded"
}

func parseRetryAfter(raw string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WithReauth runs op and, when it fails with an AuthError, re-authenticates
// once through relogin and runs op again. A second AuthError surfaces.
func WithReauth[T any](ctx context.Context, relogin func(context.Context) error, op func(context.Context) (T, error)) (T, error) {
	value, err := op(ctx)
	if err == nil || !errs.IsAuth(err) {
		return value, err
	}
	if rerr := relogin(ctx); rerr != nil {
		var zero T
		return zero, rerr
	}
	return op(ctx)
}
