package shaperman

import (
	"errors"
	"fmt"
)

// ErrorCode classifies every failure the manager reports. The set is
// closed so the wire layer can map codes onto errno-style replies.
type ErrorCode uint32

const (
	// CodeInvalidRequest covers bad or missing handles, illegal
	// scope combinations, and deleting a node that still has
	// children. Not retryable.
	CodeInvalidRequest ErrorCode = iota + 1
	// CodeResourceExhausted means the detached id space is full.
	// Retryable after ids are freed.
	CodeResourceExhausted
	// CodeOutOfMemory means a device ran out of table memory.
	CodeOutOfMemory
	// CodeUnsupported means the device cannot perform the operation.
	CodeUnsupported
	// CodeHardwareFailure wraps an opaque driver error. The
	// transaction's staged cache changes are rolled back before it
	// is reported.
	CodeHardwareFailure
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeInvalidRequest:
		return "invalid request"
	case CodeResourceExhausted:
		return "resource exhausted"
	case CodeOutOfMemory:
		return "out of memory"
	case CodeUnsupported:
		return "unsupported"
	case CodeHardwareFailure:
		return "hardware failure"
	default:
		return fmt.Sprintf("error(%d)", uint32(c))
	}
}

// Error is the failure type crossing the manager boundary. Reason
// identifies the offending handle or scope; Err, when set, carries
// the underlying driver error.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// InvalidRequestf builds a CodeInvalidRequest error.
func InvalidRequestf(format string, args ...any) error {
	return &Error{Code: CodeInvalidRequest, Reason: fmt.Sprintf(format, args...)}
}

// ResourceExhaustedf builds a CodeResourceExhausted error.
func ResourceExhaustedf(format string, args ...any) error {
	return &Error{Code: CodeResourceExhausted, Reason: fmt.Sprintf(format, args...)}
}

// OutOfMemoryf builds a CodeOutOfMemory error.
func OutOfMemoryf(format string, args ...any) error {
	return &Error{Code: CodeOutOfMemory, Reason: fmt.Sprintf(format, args...)}
}

// Unsupportedf builds a CodeUnsupported error.
func Unsupportedf(format string, args ...any) error {
	return &Error{Code: CodeUnsupported, Reason: fmt.Sprintf(format, args...)}
}

// HardwareError wraps an opaque driver failure.
func HardwareError(reason string, err error) error {
	return &Error{Code: CodeHardwareFailure, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or zero when err carries
// none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
