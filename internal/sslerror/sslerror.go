// Package sslerror classifies the results of TLS engine operations.
//
// TLS engines are quirky: several "errors" they report are normal flow
// control signals telling us to wait for the socket to become readable
// or writable again. This package separates those from real failures
// and decides when a session must be torn down.
package sslerror

import (
	"errors"
	"fmt"
)

// Code is the error condition reported by the engine after an operation.
type Code int

const (
	// CodeNone means the operation completed.
	CodeNone = Code(iota)

	// CodeZeroReturn means the peer closed the TLS session.
	CodeZeroReturn

	// CodeWantRead means the engine needs the socket to be readable.
	CodeWantRead

	// CodeWantWrite means the engine needs the socket to be writable.
	CodeWantWrite

	// CodeWantConnect means the underlying connect has not completed.
	CodeWantConnect

	// CodeWantAccept means the underlying accept has not completed.
	CodeWantAccept

	// CodeSyscall means the transport reported an error.
	CodeSyscall

	// CodeSSL means a handshake or record layer failure.
	CodeSSL
)

var codeNames = map[Code]string{
	CodeNone:        "none",
	CodeZeroReturn:  "zero_return",
	CodeWantRead:    "want_read",
	CodeWantWrite:   "want_write",
	CodeWantConnect: "want_connect",
	CodeWantAccept:  "want_accept",
	CodeSyscall:     "syscall",
	CodeSSL:         "ssl",
}

func (c Code) String() string {
	if s, found := codeNames[c]; found {
		return s
	}
	return fmt.Sprintf("unknown_%d", int(c))
}

// EngineError is the error returned by engine operations that did
// not complete. Err is the engine level error, if any was queued. Transport
// is the concrete error reported by the socket layer, if any.
type EngineError struct {
	Code      Code
	Err       error
	Transport error
}

// NewEngineError creates a new EngineError.
func NewEngineError(code Code, err error) *EngineError {
	return &EngineError{Code: code, Err: err}
}

// Error implements error.Error.
func (e *EngineError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
	case e.Transport != nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Transport.Error())
	default:
		return e.Code.String()
	}
}

// Unwrap returns the most specific underlying error.
func (e *EngineError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Transport
}

// CodeOf returns the engine code carried by err. A nil error maps to
// CodeNone. Errors not produced by an engine map to an unknown code.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return Code(-1)
}

// Class is the result of classifying an engine operation.
type Class int

const (
	// Success means the operation fully completed.
	Success = Class(iota)

	// Retryable means we need another readiness cycle.
	Retryable

	// ConnectionClosed means the peer closed the session.
	ConnectionClosed

	// TransportFailure means the socket layer failed.
	TransportFailure

	// ProtocolFailure means a handshake or record layer failure.
	ProtocolFailure
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case Retryable:
		return "retryable"
	case ConnectionClosed:
		return "connection_closed"
	case TransportFailure:
		return "transport_failure"
	default:
		return "protocol_failure"
	}
}

// Classify maps the result of an engine operation to a Class. The
// status is the value returned by the operation and is only relevant
// to tell apart transport failures, see Checker.Check.
func Classify(status int, err error) Class {
	switch CodeOf(err) {
	case CodeNone:
		return Success
	case CodeZeroReturn:
		return ConnectionClosed
	case CodeWantRead, CodeWantWrite, CodeWantConnect, CodeWantAccept:
		return Retryable
	case CodeSyscall:
		return TransportFailure
	default:
		return ProtocolFailure
	}
}

// Fatal returns whether the class always ends the session.
func (c Class) Fatal() bool {
	return c != Success && c != Retryable
}
