package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying upstream failures. Callers decide per class:
// rate limiting is retried in place, forbidden freezes the entity for the
// run, malformed aborts the current window without advancing the watermark.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrForbidden   = errors.New("access forbidden")
	ErrMalformed   = errors.New("malformed response")
	ErrServer      = errors.New("server error")
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	Status int
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// classify maps an HTTP status code onto the error taxonomy.
func classify(status int, url string) error {
	switch {
	case status == 429:
		return fmt.Errorf("%w: %s", ErrRateLimited, url)
	case status == 403:
		return fmt.Errorf("%w: %s", ErrForbidden, url)
	case status >= 500:
		return fmt.Errorf("%w: status %d from %s", ErrServer, status, url)
	default:
		return &StatusError{Status: status, URL: url}
	}
}
