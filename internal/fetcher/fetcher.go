// Package fetcher retrieves documents from the source site. It applies a
// per-request deadline and per-host rate limiting but never retries; retry
// policy belongs to the caller.
package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/listing-ingest/internal/resilience"
)

// Fetcher retrieves one document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// Document is a successfully fetched response.
type Document struct {
	URL         string // requested URL
	FinalURL    string // URL after redirects
	StatusCode  int
	ContentType string
	Charset     string // source charset; Body is UTF-8 unless decoding failed
	Body        []byte
	Truncated   bool // body exceeded the size limit and was cut
}

// FailureKind classifies a fetch failure.
type FailureKind string

const (
	KindTimeout   FailureKind = "timeout"
	KindTransport FailureKind = "transport-error"
	KindStatus    FailureKind = "non-2xx-status"
)

// FetchError is returned for every failed fetch.
type FetchError struct {
	Kind       FailureKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether another attempt may succeed. Timeouts and
// transport errors are temporary; statuses only when the server says so.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindTransport:
		return !errors.Is(e.Err, context.Canceled)
	case KindStatus:
		return resilience.IsTransientHTTPStatus(e.StatusCode)
	default:
		return false
	}
}

// KindOf returns the failure kind of err, or "" if err is not a FetchError.
func KindOf(err error) FailureKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRetryable reports whether a failed fetch is worth another attempt.
func IsRetryable(err error) bool {
	return resilience.IsTransient(err)
}
