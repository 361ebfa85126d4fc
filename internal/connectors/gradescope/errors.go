package gradescope

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/subanon/internal/core/domain"
)

// Gradescope-specific errors.
var (
	// ErrSessionClosed indicates a call on a closed session.
	ErrSessionClosed = errors.New("gradescope: session closed")

	// ErrLoginRejected indicates the login form did not produce a signed-in page.
	ErrLoginRejected = fmt.Errorf("gradescope: login rejected: %w", domain.ErrAuthInvalid)

	// ErrSignedOut indicates the platform redirected a request to the login page.
	ErrSignedOut = fmt.Errorf("gradescope: session expired: %w", domain.ErrAuthInvalid)

	// ErrMissingToken indicates a form page carried no CSRF token.
	ErrMissingToken = fmt.Errorf("gradescope: form token not found: %w", domain.ErrTransient)

	// ErrOwnerNotOnRoster indicates the destination course has no member
	// with the pseudonymous owner's name.
	ErrOwnerNotOnRoster = errors.New("gradescope: owner is not on the destination roster")
)

// RateLimitError represents a 429 response.
type RateLimitError struct {
	After time.Duration
	URL   string
}

func (e *RateLimitError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("gradescope: rate limited, retry after %s (URL: %s)", e.After, e.URL)
	}
	return fmt.Sprintf("gradescope: rate limited (URL: %s)", e.URL)
}

// Unwrap lets errors.Is match domain.ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return domain.ErrRateLimited }

// RetryAfter returns the server's Retry-After hint, zero if none was sent.
func (e *RateLimitError) RetryAfter() time.Duration { return e.After }

// APIError represents an unexpected HTTP status.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gradescope: HTTP %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// Unwrap maps the status to a domain sentinel.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return domain.ErrAuthInvalid
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusRequestTimeout || e.StatusCode >= 500:
		return domain.ErrTransient
	default:
		return domain.ErrInvalidInput
	}
}

// IsNotFound checks if the error indicates a resource was not found.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, domain.ErrAuthInvalid)
}

// statusError converts a non-2xx response into an APIError or RateLimitError.
func statusError(resp *http.Response, body []byte) error {
	u := resp.Request.URL.String()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{After: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()), URL: u}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, URL: u}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// transportError classifies a failed round trip. An unreachable host is
// batch-fatal; timeouts and dropped connections are transient.
func transportError(op string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConnectivityLost, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrConnectivityLost, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrCancelled, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
}
