// Package client talks to the scan backend: single-shot REST calls,
// the streaming analyze/watch/chat endpoints, and the image store.
//
// This file defines sentinel errors and error wrappers for classifying
// request failures. These enable callers to use errors.Is/errors.As
// for typed assertions rather than string matching.
package client

import (
	"errors"
	"fmt"
)

// Sentinel errors for request failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the target resource does not exist (404).
	ErrNotFound = errors.New("not found")

	// ErrAuth indicates authentication failure (401, expired token).
	ErrAuth = errors.New("authentication failed")

	// ErrAccessDenied indicates authorization failure (valid creds but 403).
	ErrAccessDenied = errors.New("access denied")

	// ErrTimeout indicates a request or stream timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrNetwork indicates a network-level failure (connection refused, DNS).
	ErrNetwork = errors.New("network error")

	// ErrDecode indicates a response body that failed to parse.
	ErrDecode = errors.New("response decode failed")
)

// APIError wraps an underlying error with request classification.
// It preserves the original error in the chain for inspection via errors.As.
type APIError struct {
	// Kind is the sentinel error for classification (e.g., ErrNotFound).
	Kind error
	// Op is the logical operation that failed (e.g., "get_scan").
	Op string
	// Status is the HTTP status code, if the request got that far.
	Status int
	// Err is the underlying error.
	Err error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %v (status %d)", e.Op, e.Kind, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Kind)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *APIError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// statusError classifies a non-2xx HTTP status. Returns nil for
// statuses the caller treats as success.
func statusError(op string, status int) error {
	var kind error
	switch status {
	case 401:
		kind = ErrAuth
	case 403:
		kind = ErrAccessDenied
	case 404:
		kind = ErrNotFound
	case 408, 504:
		kind = ErrTimeout
	default:
		kind = fmt.Errorf("unexpected status %d", status)
	}
	return &APIError{Kind: kind, Op: op, Status: status}
}

// wrapTransportError classifies a failed round trip: timeouts are
// distinguished from other network faults via the net.Error contract.
func wrapTransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrNetwork
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		kind = ErrTimeout
	}
	return &APIError{Kind: kind, Op: op, Err: err}
}

// wrapDecodeError wraps a response parse failure. Returns nil if err is nil.
func wrapDecodeError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &APIError{Kind: ErrDecode, Op: op, Err: err}
}
