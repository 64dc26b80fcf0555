package sfuerr

import (
	"context"
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnauthorized      Code = "unauthorized"
	CodeNotFound          Code = "not_found"
	CodeUnknownTransport  Code = "unknown_transport"
	CodeProtocolViolation Code = "protocol_violation"
	CodeCodecMismatch     Code = "codec_mismatch"
	CodeAlreadyExists     Code = "already_exists"
	CodeTimeout           Code = "timeout"
	CodeResourceExhausted Code = "resource_exhausted"
	CodeConnectFailure    Code = "connect_failure"
	CodeAlreadySharing    Code = "already_sharing"
	CodeInvalidRequest    Code = "invalid_request"
	CodeRateLimited       Code = "rate_limited"
	CodeInternal          Code = "internal"
)

// Error is the error type surfaced to signaling clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf classifies any error. Deadline errors coming out of engine calls are
// reported as timeouts; anything unclassified is internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeInternal
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "media worker did not reply in time"
	}
	return "internal error"
}

// Terminal reports whether a client must abandon the connection attempt
// instead of retrying the failed step.
func Terminal(code Code) bool {
	switch code {
	case CodeUnauthorized, CodeNotFound, CodeUnknownTransport:
		return true
	}
	return false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
