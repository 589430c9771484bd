// Package lcap is the client library for the changelog aggregation and
// publication daemon: it lets a process register as a consumer of a
// metadata target's change stream, receive and acknowledge records, and
// eventually tear its registration down.
package lcap

import (
	"errors"
	"fmt"
)

// Error represents a structured lcap error with operation context.
type Error struct {
	Op    string  // operation that failed (e.g. "START", "DEQUEUE")
	MDT   string  // metadata target name (empty if not applicable)
	Code  ErrCode // high-level error category
	Msg   string  // human-readable message
	Inner error   // wrapped error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.MDT != "" {
		parts = append(parts, fmt.Sprintf("mdt=%s", e.MDT))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("lcap: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("lcap: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Inner }

// Is provides errors.Is support comparing by error category.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrCode represents the high-level error taxonomy: a failed RPC, a bad
// argument, a target that cannot currently serve, resource exhaustion, a
// transport-level failure, a failure reported by the underlying source, or
// an unrecoverable daemon condition.
type ErrCode string

const (
	CodeProtocol        ErrCode = "protocol violation"
	CodeInvalidArgument ErrCode = "invalid argument"
	CodeNotAvailable    ErrCode = "not available"
	CodeOutOfMemory     ErrCode = "out of memory"
	CodeTransport       ErrCode = "transport error"
	CodeSource          ErrCode = "source error"
	CodeFatal           ErrCode = "fatal error"
)

// ErrEOF is returned by Recv when the underlying source has reached the
// end of its currently available records. It is not a failure: callers
// retrying with FOLLOW set should simply try again later.
var ErrEOF = errors.New("lcap: no more records available")

// NewError creates a new structured error.
func NewError(op string, code ErrCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewMDTError creates a new MDT-scoped structured error.
func NewMDTError(op, mdt string, code ErrCode, msg string) *Error {
	return &Error{Op: op, MDT: mdt, Code: code, Msg: msg}
}

// WrapError wraps an existing error with lcap operation context, inferring
// a code from the wrapped error's shape where possible.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if le, ok := inner.(*Error); ok {
		return &Error{Op: op, MDT: le.MDT, Code: le.Code, Msg: le.Msg, Inner: le.Inner}
	}
	return &Error{Op: op, Code: CodeFatal, Msg: inner.Error(), Inner: inner}
}

// IsCode reports whether err carries the given error category.
func IsCode(err error, code ErrCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}
