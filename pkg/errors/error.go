package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies a failure for callers and transports.
type ErrorCode string

const (
	// NotFoundError is returned when a block order, market, engine symbol or record does not exist.
	NotFoundError ErrorCode = "not_found"
	// UnsupportedError is returned for invalid time-in-force, unsupported markets or market orders where not allowed.
	UnsupportedError ErrorCode = "unsupported"
	// UpstreamUnavailableError is returned when the relayer or an engine call fails or times out.
	UpstreamUnavailableError ErrorCode = "upstream_unavailable"
	// IndexCorruptionError is returned when a derived index fails an internal consistency check.
	IndexCorruptionError ErrorCode = "index_corruption"
	// ValidationError is returned for malformed input such as a negative or over-precise price.
	ValidationError ErrorCode = "validation"
	// UnavailableError is returned when a component is not ready to serve, e.g. an orderbook that is not synced.
	UnavailableError ErrorCode = "unavailable"
	// InternalError is the fallback for anything unclassified.
	InternalError ErrorCode = "internal"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error

	trace StackTracer
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StackTrace returns the stack recorded on the wrapped cause, if any.
func (e *Error) StackTrace() errors.StackTrace {
	var st StackTracer
	if stderrors.As(e.Err, &st) {
		return st.StackTrace()
	}
	if e.trace != nil {
		return e.trace.StackTrace()
	}
	return nil
}

// New creates an Error with a formatted message and a recorded stack.
func New(code ErrorCode, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	return &Error{Code: code, Message: msg, trace: errors.New(msg).(StackTracer)}
}

// Wrap annotates err with a code and message. A nil err yields nil.
func Wrap(code ErrorCode, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(StackTracer); !ok {
		err = errors.WithStack(err)
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound is shorthand for New(NotFoundError, ...).
func NotFound(format string, args ...any) *Error {
	return New(NotFoundError, format, args...)
}

// Unsupported is shorthand for New(UnsupportedError, ...).
func Unsupported(format string, args ...any) *Error {
	return New(UnsupportedError, format, args...)
}

// Validation is shorthand for New(ValidationError, ...).
func Validation(format string, args ...any) *Error {
	return New(ValidationError, format, args...)
}

// Upstream wraps a failed relayer or engine call.
func Upstream(err error, format string, args ...any) error {
	return Wrap(UpstreamUnavailableError, err, format, args...)
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}
