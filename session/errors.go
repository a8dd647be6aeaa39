package session

import (
	"errors"
	"fmt"
)

// Kind classifies a session-level error so the state machine knows how to
// report it and whether the connection can continue.
type Kind int

const (
	// Protocol covers malformed frames, bad lengths, an unknown message id
	// where one is required, or a bad format-code vector length.
	Protocol Kind = iota
	// Unsupported covers COPY, FunctionCall, SSL upgrade, and unsupported
	// data types.
	Unsupported
	// Execution covers errors raised by the downstream executor.
	Execution
	// InternalIO covers byte-stream failures on the client connection.
	InternalIO
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Unsupported:
		return "unsupported"
	case Execution:
		return "execution"
	case InternalIO:
		return "internal_io"
	default:
		return "unknown"
	}
}

// Error is the error type every handler in this package returns. Code is
// the PostgreSQL SQLSTATE to report; it defaults to XX000 (internal_error)
// when the caller has no more specific mapping.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// defaultCode is the SQLSTATE used when no more specific code is known.
const defaultCode = "XX000"

func protocolError(format string, args ...any) *Error {
	return &Error{Kind: Protocol, Code: defaultCode, Message: fmt.Sprintf(format, args...)}
}

func unsupportedError(format string, args ...any) *Error {
	return &Error{Kind: Unsupported, Code: "0A000", Message: fmt.Sprintf(format, args...)}
}

// sqlStater is implemented by downstream executor errors that know their
// own PostgreSQL SQLSTATE code (e.g. the embedded SQL engine's QueryError).
type sqlStater interface {
	SQLState() string
}

func executionError(err error) *Error {
	code := defaultCode
	var ss sqlStater
	if errors.As(err, &ss) {
		code = ss.SQLState()
	}
	return &Error{Kind: Execution, Code: code, Message: err.Error(), cause: err}
}

func internalIOError(err error) *Error {
	return &Error{Kind: InternalIO, Code: defaultCode, Message: err.Error(), cause: err}
}
