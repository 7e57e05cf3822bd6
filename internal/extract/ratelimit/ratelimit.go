// Package ratelimit enforces per-realm call budgets using a sliding time
// window. A realm is a named quota bucket (for example "repos" or "commits"
// for one provider); all calls made under the same realm share one budget of
// at most MaxCalls within any trailing Period.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gitscope/agent/internal/logger"
)

// DefaultWaitCeiling is the maximum cumulative time one acquisition is
// allowed to spend waiting for a call slot before giving up.
const DefaultWaitCeiling = time.Hour

var (
	// ErrWaitCeiling indicates the projected wait for a call slot exceeded
	// the configured ceiling. This is fatal for the call; the realm is
	// saturated beyond any reasonable wait.
	ErrWaitCeiling = errors.New("ratelimit: wait ceiling exceeded")

	// ErrUnknownRealm indicates a realm name with no configured budget.
	ErrUnknownRealm = errors.New("ratelimit: unknown realm")
)

// RealmConfig is the call budget for one realm.
type RealmConfig struct {
	// MaxCalls is the number of calls admitted per sliding Period.
	MaxCalls int

	// Period is the length of the sliding window.
	Period time.Duration
}

// Limiter admits calls per realm within sliding-window budgets. Realms are
// configured once at construction and share one lock; their call histories
// are independent. The zero value is not usable; use New.
type Limiter struct {
	mu       sync.Mutex
	realms   map[string]RealmConfig
	trackers map[string][]time.Time // sorted slot-expiration times per realm
	ceiling  time.Duration

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWaitCeiling overrides the maximum cumulative wait per acquisition.
func WithWaitCeiling(d time.Duration) Option {
	return func(l *Limiter) { l.ceiling = d }
}

// New creates a Limiter with the given realm budgets.
func New(realms map[string]RealmConfig, opts ...Option) *Limiter {
	l := &Limiter{
		realms:   realms,
		trackers: make(map[string][]time.Time, len(realms)),
		ceiling:  DefaultWaitCeiling,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Do runs fn under the realm's budget, blocking until a call slot is
// available. An empty realm admits fn unconditionally with no bookkeeping
// (pass-through for unrestricted endpoints). Waiting longer than the
// configured ceiling returns ErrWaitCeiling; a cancelled context returns
// ctx.Err(). Errors from fn are returned unchanged.
func (l *Limiter) Do(ctx context.Context, realm string, fn func() error) error {
	if realm == "" {
		return fn()
	}

	cfg, ok := l.realms[realm]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRealm, realm)
	}

	start := l.now()
	for {
		l.mu.Lock()
		waitUntil, made := l.admit(realm, cfg)
		l.mu.Unlock()

		if waitUntil.IsZero() {
			err := fn()
			if err != nil && isTooManyRequests(err) {
				// The limiter thought we were within budget but the server
				// disagreed. Clock skew or an external consumer of the same
				// quota. Surface it rather than swallowing.
				logger.Error(
					"rate limiter: made %d/%d calls for realm %q but got HTTP 429 anyway",
					made, cfg.MaxCalls, realm,
				)
			}
			return err
		}

		logger.Info(
			"rate limiter: exceeded %d calls in %s for realm %q",
			cfg.MaxCalls, cfg.Period, realm,
		)

		if waitUntil.Sub(start) >= l.ceiling {
			logger.Error(
				"rate limiter: next call slot for realm %q is beyond the %s ceiling, giving up",
				realm, l.ceiling,
			)
			return fmt.Errorf("%w: realm %q", ErrWaitCeiling, realm)
		}

		// Sleep outside the lock so other realms and threads make progress.
		if d := waitUntil.Sub(l.now()); d > 0 {
			logger.Info("rate limiter: sleeping %.1fs for realm %q", d.Seconds(), realm)
			if err := l.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
}

// admit prunes expired slots for the realm and either records a new call
// (returning a zero time) or returns the earliest slot-expiration to wait
// for. Caller must hold l.mu. The second return is the number of live calls
// already made in the window.
func (l *Limiter) admit(realm string, cfg RealmConfig) (time.Time, int) {
	now := l.now()

	tracker := l.trackers[realm]
	keep := sort.Search(len(tracker), func(i int) bool {
		return tracker[i].After(now)
	})
	tracker = tracker[keep:]

	if len(tracker) < cfg.MaxCalls {
		l.trackers[realm] = append(tracker, now.Add(cfg.Period))
		return time.Time{}, len(tracker)
	}

	l.trackers[realm] = tracker
	return tracker[0], len(tracker)
}

// InFlight reports how many unexpired calls the realm currently tracks.
func (l *Limiter) InFlight(realm string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	tracker := l.trackers[realm]
	keep := sort.Search(len(tracker), func(i int) bool {
		return tracker[i].After(now)
	})
	return len(tracker) - keep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// httpStatusError is implemented by transport errors that carry an HTTP
// status (see the httpclient package). Declared locally so the limiter does
// not depend on any particular client.
type httpStatusError interface {
	HTTPStatus() int
}

func isTooManyRequests(err error) bool {
	var se httpStatusError
	if errors.As(err, &se) {
		return se.HTTPStatus() == http.StatusTooManyRequests
	}
	return false
}
