package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnexpectedStatus marks a response outside the 2xx range.
var ErrUnexpectedStatus = errors.New("unexpected status")

// TransportError describes a failed fetch of a single URL.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could succeed.
func (e *TransportError) Retryable() bool {
	if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
		return false
	}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode != 0:
		return false
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// CheckStatus returns a TransportError for non-2xx results.
func CheckStatus(result FetchResult) error {
	if result.StatusCode >= 200 && result.StatusCode < 300 {
		return nil
	}
	return &TransportError{
		URL:        result.URL,
		StatusCode: result.StatusCode,
		Err:        ErrUnexpectedStatus,
	}
}
