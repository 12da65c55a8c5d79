package api

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
)

// Error taxonomy for everything that can go wrong talking to the backend.
//
//   - NetworkError: the transport could not reach the server at all.
//   - RemoteError: the server answered with a non-2xx status and a detail.
//   - TimeoutError: a bounded request ran out of time.
//   - CancelledError: the caller abandoned the operation on purpose. This is
//     not a failure and callers are expected to filter it before surfacing
//     anything to the user.
//   - ValidationError: the request was refused locally before any I/O.

type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

type RemoteError struct {
	StatusCode int
	Detail     string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote error (%d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("remote error (%d)", e.StatusCode)
}

type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout: %v", e.Err) }
func (e *TimeoutError) Unwrap() error { return e.Err }

type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string { return fmt.Sprintf("cancelled: %v", e.Err) }
func (e *CancelledError) Unwrap() error { return e.Err }

type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation error: %s", e.Reason) }

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// AsRemote extracts a RemoteError from an error chain.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}

// classify maps a raw transport error onto the taxonomy. Context
// cancellation wins over everything else: an aborted request often also
// looks like a broken connection, and we must not report a user-initiated
// abort as a network failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &CancelledError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Err: err}
	}
	return &NetworkError{Err: err}
}
