package stream

import (
	"errors"
	"fmt"
)

// SessionError classifies terminal stream-session errors for outcome
// determination.
type SessionError struct {
	// Kind indicates which failure class ended the session.
	Kind SessionErrorKind
	// Err is the underlying error.
	Err error
}

// SessionErrorKind classifies session errors.
type SessionErrorKind int

const (
	// SessionErrorTransport indicates a connection drop or timeout mid-stream.
	SessionErrorTransport SessionErrorKind = iota
	// SessionErrorApplication indicates an explicit error event from the server.
	SessionErrorApplication
	// SessionErrorCanceled indicates context cancellation.
	SessionErrorCanceled
)

func (e *SessionError) Error() string {
	return e.Err.Error()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsTransportError returns true if the error is a mid-stream transport failure.
func IsTransportError(err error) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind == SessionErrorTransport
	}
	return false
}

// IsApplicationError returns true if the error is a server-declared error event.
func IsApplicationError(err error) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind == SessionErrorApplication
	}
	return false
}

// IsCanceledError returns true if the error is due to context cancellation.
func IsCanceledError(err error) bool {
	var sessErr *SessionError
	if errors.As(err, &sessErr) {
		return sessErr.Kind == SessionErrorCanceled
	}
	return false
}

// ApplicationError is the payload of a server-pushed error event. The
// wire carries the status code under two historical keys and the message
// under either "message" or "error" depending on protocol age.
type ApplicationError struct {
	Message string
	Status  int
	Details string
}

func (e *ApplicationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// applicationErrorWire accepts every spelling the server has shipped.
type applicationErrorWire struct {
	Message    string `json:"message"`
	Error      string `json:"error"`
	Status     int    `json:"status"`
	StatusCode int    `json:"statusCode"`
	Details    string `json:"details"`
}

func (w applicationErrorWire) toError() *ApplicationError {
	msg := w.Message
	if msg == "" {
		msg = w.Error
	}
	status := w.Status
	if status == 0 {
		status = w.StatusCode
	}
	return &ApplicationError{Message: msg, Status: status, Details: w.Details}
}
