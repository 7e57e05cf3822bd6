package github

import (
	"context"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/time/rate"
)

const (
	// hourlyQuota is the authenticated REST quota assumed before the first
	// response arrives (5000/hour).
	hourlyQuota = 5000

	// proactiveRate throttles outbound calls to ~1.2 req/sec (4320/hour),
	// staying under the quota without ever hitting it.
	proactiveRate = 1.2

	// minRemaining is the reserve: once the reported remaining quota drops
	// below this, calls wait for the reset instead of burning the reserve.
	minRemaining = 100
)

// throttle is the provider-side guard under the realm limiter: a proactive
// token bucket plus reactive tracking of the quota headers GitHub returns on
// every response.
type throttle struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	bucket    *rate.Limiter
}

func newThrottle() *throttle {
	return &throttle{
		remaining: hourlyQuota,
		bucket:    rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}
}

// wait blocks until a call is safe: the token bucket admits it and the
// reported remaining quota is above the reserve (or the quota has reset).
func (t *throttle) wait(ctx context.Context) error {
	if err := t.bucket.Wait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	remaining := t.remaining
	resetAt := t.resetAt
	t.mu.Unlock()

	if remaining < minRemaining && time.Now().Before(resetAt) {
		timer := time.NewTimer(time.Until(resetAt))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// update records the quota headers from a response.
func (t *throttle) update(resp *gh.Response) {
	if resp == nil || resp.Response == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.remaining = n
		}
	}
	if v := resp.Header.Get("X-RateLimit-Reset"); v != "" {
		if unix, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.resetAt = time.Unix(unix, 0)
		}
	}
}
