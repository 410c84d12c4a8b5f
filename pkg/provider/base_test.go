package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sir-Unknown/cityvisitorparking/pkg/errs"
)

func newTestBase(t *testing.T, srv *httptest.Server, retryCount int) *Base {
	t.Helper()
	b, err := NewBase(Options{
		Manifest:   Manifest{ID: "testcity", Name: "Test City"},
		Session:    srv.Client(),
		BaseURL:    srv.URL,
		RetryCount: retryCount,
	})
	require.NoError(t, err)
	// Collapse cool-downs so rate-limit tests run instantly.
	b.sleep = func(context.Context, time.Duration) error { return nil }
	return b
}

func TestNewBaseRequiresSession(t *testing.T) {
	_, err := NewBase(Options{BaseURL: "https://example.test"})
	assert.True(t, errs.IsValidation(err))
}

func TestBuildURL(t *testing.T) {
	b, err := NewBase(Options{
		Session: http.DefaultClient,
		BaseURL: "https://portal.example.test/",
		APIURI:  "api/v1/",
	})
	require.NoError(t, err)

	got, err := b.BuildURL("/login")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.test/api/v1/login", got)

	got, err = b.BuildURL("login")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.test/api/v1/login", got)

	_, err = b.BuildURL("")
	assert.True(t, errs.IsValidation(err))

	_, err = b.BuildURL("https://elsewhere.test/steal")
	assert.True(t, errs.IsValidation(err))
}

func TestBuildURLRequiresBaseURL(t *testing.T) {
	b, err := NewBase(Options{Session: http.DefaultClient})
	require.NoError(t, err)

	_, err = b.BuildURL("/login")
	assert.True(t, errs.IsValidation(err))
}

func TestDoJSONStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, check: func(t *testing.T, err error) {
			assert.True(t, errs.IsAuth(err))
		}},
		{name: "forbidden", status: http.StatusForbidden, check: func(t *testing.T, err error) {
			assert.True(t, errs.IsAuth(err))
		}},
		{name: "server error", status: http.StatusBadGateway, check: func(t *testing.T, err error) {
			assert.True(t, errs.IsProvider(err))
			assert.Contains(t, err.Error(), "502")
		}},
		{name: "not found", status: http.StatusNotFound, check: func(t *testing.T, err error) {
			assert.True(t, errs.IsProvider(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			b := newTestBase(t, srv, 0)
			err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDoJSONDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "cityvisitorparking/testcity", r.Header.Get("User-Agent"))
		w.Write([]byte(`{"value": 42}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 0)
	var out struct {
		Value int `json:"value"`
	}
	err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
}

func TestDoJSONRejectsInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 0)
	var out map[string]any
	err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, &out)
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
	assert.Contains(t, err.Error(), "valid JSON")
}

func TestErrorFromBodyHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message": "plate already reserved"}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 0)
	err := b.DoJSON(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/x",
		ErrorFromBody: func(status int, body []byte) error {
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, string(body), "already reserved")
			return errs.Provider("plate already reserved")
		},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, "provider: plate already reserved", err.Error())
}

func TestGetRetriesNetworkFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			// Drop the connection so the client sees a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 2)
	err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostNeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		hj := w.(http.Hijacker)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		conn.Close()
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 3)
	err := b.DoJSON(context.Background(), Request{Method: http.MethodPost, Path: "/x", Body: map[string]int{"a": 1}}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsNetwork(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 1)
	var slept time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		return nil
	}

	err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, slept)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimitOnMutationFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 3)
	err := b.DoJSON(context.Background(), Request{Method: http.MethodPost, Path: "/x"}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), calls.Load())
}

func TestRateLimitExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 1)
	err := b.DoJSON(context.Background(), Request{Method: http.MethodGet, Path: "/x"}, nil)
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
	assert.Contains(t, err.Error(), "rate limit")
}

func TestQueryAndHeadersApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("page"))
		assert.Equal(t, "angular", r.Header.Get("X-Requested-With"))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 0)
	headers := http.Header{}
	headers.Set("X-Requested-With", "angular")
	err := b.DoJSON(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/x",
		Headers: headers,
		Query:   map[string][]string{"page": {"7"}},
	}, nil)
	require.NoError(t, err)
}

func TestBasicAuthApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	b := newTestBase(t, srv, 0)
	err := b.DoJSON(context.Background(), Request{
		Method:    http.MethodGet,
		Path:      "/session/0",
		BasicAuth: &BasicAuth{Username: "user", Password: "secret"},
	}, nil)
	require.NoError(t, err)
}

func TestWithReauthRetriesOnceOnAuthError(t *testing.T) {
	calls := 0
	relogins := 0

	got, err := WithReauth(context.Background(),
		func(context.Context) error {
			relogins++
			return nil
		},
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errs.Auth("session expired")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, relogins)
	assert.Equal(t, 2, calls)
}

func TestWithReauthSurfacesSecondAuthError(t *testing.T) {
	calls := 0
	_, err := WithReauth(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) (int, error) {
			calls++
			return 0, errs.Auth("still rejected")
		})
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Equal(t, 2, calls)
}

func TestWithReauthDoesNotRetryOtherKinds(t *testing.T) {
	calls := 0
	_, err := WithReauth(context.Background(),
		func(context.Context) error {
			t.Fatal("relogin must not run")
			return nil
		},
		func(context.Context) (int, error) {
			calls++
			return 0, errs.Provider("upstream 500")
		})
	require.Error(t, err)
	assert.True(t, errs.IsProvider(err))
	assert.Equal(t, 1, calls)
}

func TestWithReauthSurfacesReloginFailure(t *testing.T) {
	_, err := WithReauth(context.Background(),
		func(context.Context) error { return errs.Auth("bad credentials") },
		func(context.Context) (int, error) { return 0, errs.Auth("session expired") })
	require.Error(t, err)
	assert.True(t, errs.IsAuth(err))
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
