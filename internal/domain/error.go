package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a domain error independently of its JSON-RPC
// surface representation; the router maps codes onto wire error codes
// at the edge (spec §7).
type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "invalid_argument"
	CodeNotFound         ErrorCode = "not_found"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeFailedPrecond    ErrorCode = "failed_precondition"
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeUnauthenticated  ErrorCode = "unauthenticated"
	CodeInternal         ErrorCode = "internal"
	CodeCanceled         ErrorCode = "canceled"
	CodeDeadlineExceeded ErrorCode = "deadline_exceeded"
	CodeNotImplemented   ErrorCode = "not_implemented"
)

// Error is the proxy's canonical error shape. Op identifies the
// operation that failed (e.g. "child.call_tool"); Cause, if set, is
// the underlying error this wraps.
type Error struct {
	Code      ErrorCode
	Op        string
	Message   string
	Cause     error
	Retryable bool
	Meta      map[string]string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// E constructs a new Error with no wrapped cause.
func E(code ErrorCode, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap constructs a new Error wrapping cause.
func Wrap(code ErrorCode, op string, cause error) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Code: code, Op: op, Message: msg, Cause: cause}
}

// WithRetryable sets the receiver's Retryable flag and returns it, for
// chaining at the construction site.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithMeta attaches a metadata key/value and returns the receiver.
func (e *Error) WithMeta(key, value string) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]string)
	}
	e.Meta[key] = value
	return e
}

// CodeFrom extracts the ErrorCode of err if it is (or wraps) a
// *domain.Error, otherwise CodeInternal.
func CodeFrom(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err is a *domain.Error marked retryable.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Sentinel errors for conditions the manager and router test with
// errors.Is rather than code comparison.
var (
	ErrNotRunning        = errors.New("server not running")
	ErrUnknownServer     = errors.New("unknown server")
	ErrConnectionClosed  = errors.New("server closed connection")
	ErrMalformedPrefix   = errors.New("malformed qualified tool name")
	ErrEmptyQuery        = errors.New("empty query")
)

// JSONRPCCodeFor maps a domain ErrorCode onto the JSON-RPC error code
// the router should surface to the client (spec §6/§7).
func JSONRPCCodeFor(code ErrorCode) int {
	switch code {
	case CodeInvalidArgument, CodeNotFound, CodeFailedPrecond:
		return JSONRPCInvalidParams
	case CodeNotImplemented:
		return JSONRPCMethodNotFound
	default:
		return JSONRPCServerError
	}
}
