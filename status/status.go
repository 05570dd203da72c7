// Package status defines the error taxonomy shared by the execution
// orchestration layers: a small set of Code values describing how an
// operation failed, carried by errors with full stack traces.
//
// Validation failures (BadData, BadState) are produced synchronously at the
// API boundary. Runtime failures (Unavailable, DeadObject, GeneralFailure)
// surface from device execution and may be recovered by the fallback
// machinery. OutputInsufficientSize is special: it is caller-fixable and is
// never retried on a different device.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code classifies a failure.
type Code int

const (
	// OK means no error. Errors never carry OK; CodeOf(nil) returns it.
	OK Code = iota

	// BadData indicates malformed or out-of-range caller arguments: a bad
	// operand index, an over-long length, a shape incompatible with the
	// operand, or an unbound argument at compute time.
	BadData

	// BadState indicates an operation invalid for the current lifecycle
	// state, e.g. binding after compute started, or querying output shapes
	// before the execution finished.
	BadState

	// OutputInsufficientSize indicates a bound output buffer was too small
	// for the computed result. It carries partial shape information the
	// caller can use to resize and retry; it is never recovered by fallback.
	OutputInsufficientSize

	// GeneralFailure indicates an internal inconsistency, e.g. a step
	// reporting output shapes that contradict already-specified dimensions.
	GeneralFailure

	// Unavailable indicates the target device cannot currently serve the
	// request. Recoverable via fallback when fallback is permitted.
	Unavailable

	// DeadObject indicates the remote executor process died. Treated like
	// any other recoverable runtime failure.
	DeadObject
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case BadData:
		return "BadData"
	case BadState:
		return "BadState"
	case OutputInsufficientSize:
		return "OutputInsufficientSize"
	case GeneralFailure:
		return "GeneralFailure"
	case Unavailable:
		return "Unavailable"
	case DeadObject:
		return "DeadObject"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is an error carrying a Code. Use Errorf to create one and CodeOf to
// recover the code through arbitrary wrapping.
type Error struct {
	code Code
	err  error
}

// Errorf creates an *Error with the given code and a formatted message,
// annotated with a stack trace at the point it was created.
func Errorf(code Code, format string, args ...any) error {
	return &Error{code: code, err: errors.Errorf(format, args...)}
}

// Wrap annotates err with a code and message, preserving err as the cause.
// Returns nil if err is nil.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, err: errors.WithMessage(err, message)}
}

// Code returns the code carried by the error.
func (e *Error) Code() Code { return e.code }

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap supports errors.Is/errors.As traversal.
func (e *Error) Unwrap() error { return e.err }

// Format implements fmt.Formatter, delegating to the underlying pkg/errors
// error so "%+v" prints the stack trace.
func (e *Error) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		_, _ = fmt.Fprintf(s, "%s: %+v", e.code, e.err)
		return
	}
	_, _ = fmt.Fprint(s, e.Error())
}

// CodeOf extracts the Code from err. A nil error yields OK; an error that
// carries no *Error in its chain yields GeneralFailure.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var sErr *Error
	if errors.As(err, &sErr) {
		return sErr.code
	}
	return GeneralFailure
}
