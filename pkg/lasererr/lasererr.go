// Copyright 2025 Takhin Data, Inc.

// Package lasererr defines the closed error taxonomy that crosses the
// client/server boundary. Internal errors are plain wrapped
// errors; only the codes in this package are meaningful to callers.
package lasererr

import (
	"errors"
	"fmt"
)

// Code is the external error taxonomy. Zero value is OK.
type Code int32

const (
	OK Code = iota
	NotFound
	KeyExpired
	ValueTypeInvalid
	UnionDataTypeInvalid
	NoPartition
	RateLimited
	ClientCallError
	ClientCallTimeout
	ClientFutureTimeout
	PartFailed
	AllFailed
	Unknown
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case KeyExpired:
		return "KEY_EXPIRE"
	case ValueTypeInvalid:
		return "VALUE_TYPE_INVALID"
	case UnionDataTypeInvalid:
		return "UNION_DATA_TYPE_INVALID"
	case NoPartition:
		return "NO_PARTITION"
	case RateLimited:
		return "RATE_LIMITED"
	case ClientCallError:
		return "CLIENT_THRIFT_CALL_ERROR"
	case ClientCallTimeout:
		return "CLIENT_THRIFT_CALL_TIMEOUT"
	case ClientFutureTimeout:
		return "CLIENT_THRIFT_FUTURE_TIMEOUT"
	case PartFailed:
		return "RS_PART_FAILED"
	case AllFailed:
		return "RS_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error wraps a Code with a human-readable message and an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an *Error carrying an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// CodeOf extracts the Code from err, defaulting to Unknown for plain errors
// and OK for a nil err.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return Unknown
}

// IsFailure reports whether code should count as a failure when aggregating
// multi-key results (§4.8): OK and KeyExpired are not failures.
func IsFailure(code Code) bool {
	return code != OK && code != KeyExpired
}

// Retryable reports whether a client-side code should be retried, and under
// which budget: timeout codes consume timeout_retry, transport errors
// consume connection_retry.
func Retryable(code Code) (retry bool, isTimeout bool) {
	switch code {
	case ClientCallTimeout, ClientFutureTimeout:
		return true, true
	case ClientCallError:
		return true, false
	default:
		return false, false
	}
}
