package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// Temporary is implemented by errors that know whether they are worth
// retrying, such as fetcher.FetchError.
type Temporary interface {
	Temporary() bool
}

// IsTransient reports whether err is likely to succeed on a later attempt:
// errors that say so themselves, network timeouts, and refused or reset
// connections. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var tmp Temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// IsTransientHTTPStatus reports HTTP statuses that are safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
