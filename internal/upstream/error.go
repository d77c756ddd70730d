// Package upstream defines the classified error surfaced to callers when a
// download exhausts every transport tier and retry attempt.
package upstream

import (
	"errors"
	"fmt"
)

// Error is the terminal, caller-visible failure for an asset download.
// Status is the HTTP status observed upstream, or 0 when the failure was a
// pure transport/handshake error with no response. Details carries free-form
// context suitable for direct surfacing to an API consumer.
type Error struct {
	Status  int
	Message string
	Details map[string]any
	Err     error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewStatusError builds an Error for a reachable upstream that rejected the
// request with a non-200 status.
func NewStatusError(status int) *Error {
	return &Error{
		Status:  status,
		Message: fmt.Sprintf("assets download failed, %d", status),
		Details: map[string]any{"status": status},
	}
}

// NewTransportError builds an Error for a failure with no HTTP status
// (connection, TLS handshake, timeout).
func NewTransportError(err error) *Error {
	return &Error{
		Message: fmt.Sprintf("assets download failed, %s", err),
		Details: map[string]any{"error": err.Error()},
		Err:     err,
	}
}

// Classify guarantees the failure surfaced to the caller is an *Error.
// Already-classified errors pass through untouched; anything else (e.g. a
// configuration error raised outside the transport cascade) is wrapped with
// a generic 502 upstream status and its stringified cause.
func Classify(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}

	return &Error{
		Status:  502,
		Message: fmt.Sprintf("assets download failed, %s", err),
		Details: map[string]any{"status": 502, "error": err.Error()},
		Err:     err,
	}
}

// StatusOf extracts the upstream status from a classified error chain.
// The second return is false when err carries no classified status.
func StatusOf(err error) (int, bool) {
	var ue *Error
	if errors.As(err, &ue) && ue.Status > 0 {
		return ue.Status, true
	}

	return 0, false
}
