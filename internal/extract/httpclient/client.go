// Package httpclient wraps outbound HTTP with the retry behavior every
// provider adapter needs: transient transport failures are retried with
// exponential backoff, a 401 triggers one re-authentication attempt, and a
// 429 is waited out honoring Retry-After. Non-transient 4xx responses are
// surfaced immediately as typed errors.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gitscope/agent/internal/logger"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultTransportRetries is the retry budget for connection errors and
	// retryable 5xx statuses.
	DefaultTransportRetries = 3

	// DefaultRetryDelay is the initial backoff delay for transport retries;
	// it doubles on each attempt.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultRateLimitRetries is the retry budget for 429 responses.
	DefaultRateLimitRetries = 7

	// DefaultRetryAfterCap bounds how long a server-suggested Retry-After is
	// honored. Suggested waits beyond the cap fall back to quadratic backoff
	// rather than trusting the server. Empirically tuned, not principled;
	// override per provider if needed.
	DefaultRetryAfterCap = 5 * time.Minute

	// rateLimitGrace is added to computed 429 backoff so we do not knock on
	// the door the instant the window reopens.
	rateLimitGrace = 3 * time.Second
)

// defaultRetryStatuses are the 5xx codes retried at the transport layer.
var defaultRetryStatuses = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusGatewayTimeout:      true,
}

// Authenticator applies credentials to outbound requests and can reset them
// after an authentication failure.
type Authenticator interface {
	// Apply sets credentials on the request.
	Apply(req *http.Request) error

	// Reset discards cached credentials so the next Apply re-authenticates.
	Reset(ctx context.Context) error
}

// TokenAuth is an Authenticator for static bearer/token credentials.
type TokenAuth struct {
	// Scheme is the Authorization scheme, for example "token" or "Bearer".
	Scheme string

	// Token is the credential value.
	Token string
}

// Apply sets the Authorization header.
func (a *TokenAuth) Apply(req *http.Request) error {
	req.Header.Set("Authorization", a.Scheme+" "+a.Token)
	return nil
}

// Reset is a no-op: a static token cannot be refreshed. A second 401 will
// surface to the caller.
func (a *TokenAuth) Reset(_ context.Context) error { return nil }

// Client is a retrying HTTP client. The zero value is not usable; use New.
type Client struct {
	http             *http.Client
	auth             Authenticator
	retryStatuses    map[int]bool
	transportRetries int
	retryDelay       time.Duration
	rateLimitRetries int
	retryAfterCap    time.Duration

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAuthenticator sets the credential hook used on every request.
func WithAuthenticator(a Authenticator) Option {
	return func(c *Client) { c.auth = a }
}

// WithRetryStatuses overrides which status codes are retried at the
// transport layer.
func WithRetryStatuses(codes ...int) Option {
	return func(c *Client) {
		c.retryStatuses = make(map[int]bool, len(codes))
		for _, code := range codes {
			c.retryStatuses[code] = true
		}
	}
}

// WithTransportRetries overrides the transport retry budget.
func WithTransportRetries(n int) Option {
	return func(c *Client) { c.transportRetries = n }
}

// WithRateLimitRetries overrides the 429 retry budget.
func WithRateLimitRetries(n int) Option {
	return func(c *Client) { c.rateLimitRetries = n }
}

// WithRetryAfterCap overrides the maximum honored Retry-After.
func WithRetryAfterCap(d time.Duration) Option {
	return func(c *Client) { c.retryAfterCap = d }
}

// New creates a Client with default retry budgets.
func New(opts ...Option) *Client {
	c := &Client{
		http:             &http.Client{Timeout: DefaultTimeout},
		retryStatuses:    defaultRetryStatuses,
		transportRetries: DefaultTransportRetries,
		retryDelay:       DefaultRetryDelay,
		rateLimitRetries: DefaultRateLimitRetries,
		retryAfterCap:    DefaultRetryAfterCap,
		sleep:            sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request, retrying transient failures. On success the response
// body is open and must be closed by the caller. Any non-2xx outcome that
// survives the retry budgets is returned as a *StatusError with a nil
// response. Requests with a body must set GetBody so attempts can be
// re-issued.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.doTransport(ctx, req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return c.checkStatus(resp)
		}

		wait := c.rateLimitWait(resp, attempt)
		drain(resp)

		if attempt >= c.rateLimitRetries {
			return nil, &StatusError{
				Code:    http.StatusTooManyRequests,
				Message: fmt.Sprintf("rate limited after %d attempts", attempt),
			}
		}

		logger.Warn(
			"rate limited by server (attempt %d/%d), waiting %.1fs",
			attempt, c.rateLimitRetries, wait.Seconds(),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// doTransport performs one logical request with transport-level retries and
// the single 401 re-authentication attempt.
func (c *Client) doTransport(parent context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	reauthed := false

	for attempt := 0; attempt <= c.transportRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay << (attempt - 1)
			logger.Warn(
				"transient request failure (attempt %d/%d), retrying in %s",
				attempt, c.transportRetries, delay,
			)
			if err := c.sleep(parent, delay); err != nil {
				return nil, err
			}
		}

		attemptReq, err := cloneRequest(parent, req)
		if err != nil {
			return nil, err
		}
		if c.auth != nil {
			if err := c.auth.Apply(attemptReq); err != nil {
				return nil, fmt.Errorf("apply credentials: %w", err)
			}
		}

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			// Connection error or timeout: transient, spend the retry budget.
			lastErr = err
			continue
		}

		if c.retryStatuses[resp.StatusCode] {
			lastErr = &StatusError{Code: resp.StatusCode, Message: readMessage(resp), URL: req.URL.String()}
			drain(resp)
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed && c.auth != nil {
			// Clear session credentials and try exactly once more. A second
			// 401 falls through to the caller.
			logger.Warn("received 401 for %s %s, resetting credentials", req.Method, req.URL.Path)
			drain(resp)
			if err := c.auth.Reset(parent); err != nil {
				return nil, fmt.Errorf("reset credentials: %w", err)
			}
			reauthed = true
			attempt-- // the re-auth attempt does not consume retry budget
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.transportRetries, lastErr)
}

// checkStatus converts any remaining non-2xx response into a *StatusError.
func (c *Client) checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{
			Code:    resp.StatusCode,
			Message: readMessage(resp),
			URL:     resp.Request.URL.String(),
		}
		drain(resp)
		return nil, serr
	}
	return resp, nil
}

// rateLimitWait computes how long to wait before retrying a 429. A
// Retry-After header is honored up to the cap; otherwise, or beyond the cap,
// the wait grows quadratically with the attempt count.
func (c *Client) rateLimitWait(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			suggested := time.Duration(secs) * time.Second
			if suggested <= c.retryAfterCap {
				return suggested
			}
			logger.Warn(
				"server suggested a %.0fs rate limit wait, ignoring in favor of backoff",
				suggested.Seconds(),
			)
		}
	}
	return time.Duration(attempt*attempt)*time.Second + rateLimitGrace
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request with body must set GetBody for retries")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// readMessage pulls a short error description from the response body.
func readMessage(resp *http.Response) string {
	if resp.Body == nil {
		return http.StatusText(resp.StatusCode)
	}
	snippet, err := io.ReadAll(io.LimitReader(resp.Body, 512))
	if err != nil || len(snippet) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	return string(snippet)
}

func drain(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}
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
