package download

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrInvalidDestination is returned when a destination resolves outside the target directory.
	ErrInvalidDestination = errors.New("destination is outside the target directory")
	// ErrShuttingDown is returned by Enqueue after Stop was called.
	ErrShuttingDown = errors.New("download manager is shutting down")
	// ErrStopTimeout is returned by Stop when workers did not exit in time.
	ErrStopTimeout = errors.New("timed out waiting for download workers")
	// ErrTransient matches transfer errors that may succeed on retry.
	ErrTransient = errors.New("transient transfer error")
	// ErrPermanent matches transfer errors that will not succeed on retry.
	ErrPermanent = errors.New("permanent transfer error")
	// ErrEmptyURL is returned by Enqueue for an empty URL.
	ErrEmptyURL = errors.New("url is empty")
)

// TransferError carries the retry classification of a failed transfer.
type TransferError struct {
	// Err is the underlying failure.
	Err error
	// Retryable reports whether the transfer may be attempted again.
	Retryable bool
}

// Error implements error.
func (e *TransferError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrTransient or ErrPermanent.
func (e *TransferError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Retryable
	case ErrPermanent:
		return !e.Retryable
	default:
		return false
	}
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransferError{Err: err, Retryable: true}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &TransferError{Err: err, Retryable: false}
}

// StatusError is returned when the server answers with a non-success status.
type StatusError struct {
	// Code is the HTTP status code.
	Code int
	// URL is the requested address.
	URL string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable classifies err. Explicit TransferError marks win; otherwise
// network timeouts, connection errors, truncated bodies and a small set of
// HTTP statuses are retryable and everything else is permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		return transferErr.Retryable
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.Code)
	}

	// Local filesystem problems do not heal by themselves.
	if errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, ErrInvalidDestination) {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return false
}
