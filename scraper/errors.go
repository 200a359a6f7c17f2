package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// TransientError is a failure worth retrying: network errors, timeouts,
// 429/5xx. Returned by the retry policy once attempts are exhausted.
type TransientError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient (status %d, %d attempts): %v", e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transient (%d attempts): %v", e.Attempts, e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// AuthExpiredError means the session cookies are no longer accepted.
type AuthExpiredError struct {
	StatusCode int
}

func (e AuthExpiredError) Error() string {
	return fmt.Sprintf("auth expired (status %d)", e.StatusCode)
}

// FatalBackendError is a non-retryable response; it ends the current category.
type FatalBackendError struct {
	StatusCode int
	URL        string
}

func (e FatalBackendError) Error() string {
	return fmt.Sprintf("fatal backend response %d for %s", e.StatusCode, e.URL)
}

// MalformedResponseError is a body the adapter could not parse.
type MalformedResponseError struct {
	Err error
}

func (e MalformedResponseError) Error() string {
	return fmt.Errorf("malformed response: %w", e.Err).Error()
}

func (e MalformedResponseError) Unwrap() error {
	return e.Err
}

// PersistenceError aborts a run: the checkpoint store could not be written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Errorf("persistence (%s): %w", e.Op, e.Err).Error()
}

func (e PersistenceError) Unwrap() error {
	return e.Err
}

// classifyTransportError wraps network failures with their cause label.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var persistence PersistenceError
	if errors.As(err, &persistence) {
		return "persistence"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var auth AuthExpiredError
	if errors.As(err, &auth) {
		return "auth_expired"
	}
	var fatal FatalBackendError
	if errors.As(err, &fatal) {
		return "fatal"
	}
	var malformed MalformedResponseError
	if errors.As(err, &malformed) {
		return "malformed"
	}
	var transient TransientError
	if errors.As(err, &transient) {
		return "transient"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
