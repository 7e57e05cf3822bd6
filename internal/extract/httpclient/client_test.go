package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastSleep records requested waits without blocking.
type fastSleep struct {
	waits []time.Duration
}

func (s *fastSleep) Sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(opts ...Option) (*Client, *fastSleep) {
	sleeper := &fastSleep{}
	c := New(opts...)
	c.sleep = sleeper.Sleep
	return c, sleeper
}

func TestClient_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("returns successful response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
		defer srv.Close()
		c, _ := newTestClient()

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("retries 5xx with exponential backoff", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		c, sleeper := newTestClient()

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, int32(3), calls.Load())
		require.Len(t, sleeper.waits, 2)
		assert.Equal(t, DefaultRetryDelay, sleeper.waits[0])
		assert.Equal(t, 2*DefaultRetryDelay, sleeper.waits[1])
	})

	t.Run("exhausted transport budget surfaces the last error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()
		c, _ := newTestClient(WithTransportRetries(2))

		_, err := c.Get(ctx, srv.URL)

		require.Error(t, err)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
	})

	t.Run("does not retry non-retryable 4xx", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			http.Error(w, "bad request", http.StatusBadRequest)
		}))
		defer srv.Close()
		c, _ := newTestClient()

		_, err := c.Get(ctx, srv.URL)

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Code)
	})

	t.Run("401 triggers exactly one re-authentication", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") != "token fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		auth := &refreshingAuth{tokens: []string{"stale", "fresh"}}
		c, _ := newTestClient(WithAuthenticator(auth))

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, int32(2), calls.Load())
		assert.Equal(t, 1, auth.resets)
	})

	t.Run("second 401 is surfaced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		auth := &refreshingAuth{tokens: []string{"bad", "still-bad"}}
		c, _ := newTestClient(WithAuthenticator(auth))

		_, err := c.Get(ctx, srv.URL)

		require.Error(t, err)
		assert.True(t, IsUnauthorized(err))
		assert.Equal(t, 1, auth.resets)
	})

	t.Run("429 honors Retry-After then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		c, sleeper := newTestClient()

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Len(t, sleeper.waits, 1)
		assert.Equal(t, 7*time.Second, sleeper.waits[0])
	})

	t.Run("429 without Retry-After backs off quadratically", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) <= 2 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		c, sleeper := newTestClient()

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Len(t, sleeper.waits, 2)
		assert.Equal(t, 1*time.Second+rateLimitGrace, sleeper.waits[0])
		assert.Equal(t, 4*time.Second+rateLimitGrace, sleeper.waits[1])
	})

	t.Run("oversized Retry-After falls back to backoff", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "3600")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()
		c, sleeper := newTestClient()

		resp, err := c.Get(ctx, srv.URL)

		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Len(t, sleeper.waits, 1)
		assert.Equal(t, 1*time.Second+rateLimitGrace, sleeper.waits[0])
	})

	t.Run("exhausted 429 budget raises", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer srv.Close()
		c, _ := newTestClient(WithRateLimitRetries(3))

		_, err := c.Get(ctx, srv.URL)

		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
	})

	t.Run("connection errors are retried", func(t *testing.T) {
		// Point at a closed server to force connection errors.
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		url := srv.URL
		srv.Close()
		c, sleeper := newTestClient(WithTransportRetries(2))

		_, err := c.Get(ctx, url)

		require.Error(t, err)
		assert.Len(t, sleeper.waits, 2)
	})
}

// TestClient_RetryAfterElapsed verifies the end-to-end wall-clock behavior:
// a 429 with Retry-After: 2 once, then a 200, with no visible error and at
// least two seconds elapsed.
func TestClient_RetryAfterElapsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock test in short mode")
	}

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	c := New() // real sleep

	start := time.Now()
	resp, err := c.Get(context.Background(), srv.URL)
	elapsed := time.Since(start)

	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)
}

func TestClient_GetJSON(t *testing.T) {
	ctx := context.Background()

	t.Run("decodes body and returns headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Link", `<https://example.test/page2>; rel="next"`)
			_, _ = w.Write([]byte(`{"name":"octo"}`))
		}))
		defer srv.Close()
		c, _ := newTestClient()

		var out struct {
			Name string `json:"name"`
		}
		header, err := c.GetJSON(ctx, srv.URL, &out)

		require.NoError(t, err)
		assert.Equal(t, "octo", out.Name)
		assert.Contains(t, header.Get("Link"), "page2")
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer srv.Close()
		c, _ := newTestClient()

		var out map[string]any
		_, err := c.GetJSON(ctx, srv.URL, &out)

		require.Error(t, err)
	})
}

func TestIsNotFound(t *testing.T) {
	t.Run("matches 404 status errors", func(t *testing.T) {
		err := error(&StatusError{Code: http.StatusNotFound, Message: "missing"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("does not match other errors", func(t *testing.T) {
		assert.False(t, IsNotFound(errors.New("nope")))
		assert.False(t, IsNotFound(&StatusError{Code: http.StatusForbidden}))
	})
}

// refreshingAuth hands out successive tokens; Reset advances to the next.
type refreshingAuth struct {
	tokens []string
	idx    int
	resets int
}

func (a *refreshingAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", "token "+a.tokens[a.idx])
	return nil
}

func (a *refreshingAuth) Reset(_ context.Context) error {
	a.resets++
	if a.idx < len(a.tokens)-1 {
		a.idx++
	}
	return nil
}
