package httpclient

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx HTTP outcome that survived the retry budgets.
type StatusError struct {
	Code    int
	Message string
	URL     string
}

func (e *StatusError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("httpclient: %d %s (%s)", e.Code, e.Message, e.URL)
	}
	return fmt.Sprintf("httpclient: %d %s", e.Code, e.Message)
}

// HTTPStatus returns the response status code. The ratelimit package keys
// off this method to recognize 429s without importing this package.
func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// IsNotFound reports whether the error is a 404 response.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// IsUnauthorized reports whether the error is a 401 response.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

// IsRateLimited reports whether the error is a 429 response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusTooManyRequests
}
