package atticprotocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Sentinel errors for the CLI protocol.
var (
	// ErrLineTooLong indicates a command line exceeded MaxLineLength.
	ErrLineTooLong = errors.New("line too long")

	// ErrTimeout indicates a command timed out waiting for a response.
	ErrTimeout = errors.New("command timed out")

	// ErrSocketNotFound indicates no server socket was found.
	ErrSocketNotFound = errors.New("no server socket found")

	// ErrNotConnected indicates an operation was attempted without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates connect was called while already connected.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrClosedByCaller is the disconnect reason reported when the
	// connection was closed deliberately through Disconnect.
	ErrClosedByCaller = errors.New("connection closed by caller")

	// ErrConnectionLost is reported when the heartbeat finds the last pong
	// older than the staleness window. The socket may still look open.
	ErrConnectionLost = errors.New("connection lost: server stopped answering heartbeats")
)

// ParseErrorKind categorizes command parsing errors.
type ParseErrorKind int

const (
	// ErrKindInvalidCommand indicates an unknown or malformed command.
	ErrKindInvalidCommand ParseErrorKind = iota
	// ErrKindInvalidAddress indicates an invalid memory address format.
	ErrKindInvalidAddress
	// ErrKindInvalidCount indicates an invalid count or size value.
	ErrKindInvalidCount
	// ErrKindInvalidByte indicates an invalid byte value.
	ErrKindInvalidByte
	// ErrKindInvalidStepCount indicates an invalid step count.
	ErrKindInvalidStepCount
	// ErrKindInvalidResetType indicates an invalid reset type (not cold/warm).
	ErrKindInvalidResetType
	// ErrKindInvalidRegister indicates an unknown register name.
	ErrKindInvalidRegister
	// ErrKindInvalidRegisterFormat indicates malformed register assignment.
	ErrKindInvalidRegisterFormat
	// ErrKindInvalidValue indicates an invalid numeric value.
	ErrKindInvalidValue
	// ErrKindInvalidDriveNumber indicates an invalid drive number.
	ErrKindInvalidDriveNumber
	// ErrKindMissingArgument indicates a required argument was not provided.
	ErrKindMissingArgument
)

// ParseError reports command text that could not be turned into a Command.
type ParseError struct {
	Kind    ParseErrorKind
	Value   string // The invalid value that caused the error
	Message string // Additional context
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrKindInvalidCommand:
		return fmt.Sprintf("invalid command '%s'", e.Value)
	case ErrKindInvalidAddress:
		return fmt.Sprintf("invalid address '%s'", e.Value)
	case ErrKindInvalidCount:
		return fmt.Sprintf("invalid count '%s'", e.Value)
	case ErrKindInvalidByte:
		return fmt.Sprintf("invalid byte value '%s'", e.Value)
	case ErrKindInvalidStepCount:
		return fmt.Sprintf("invalid step count '%s'", e.Value)
	case ErrKindInvalidResetType:
		return fmt.Sprintf("invalid reset type '%s'", e.Value)
	case ErrKindInvalidRegister:
		return fmt.Sprintf("invalid register '%s'", e.Value)
	case ErrKindInvalidRegisterFormat:
		return fmt.Sprintf("invalid register format '%s'", e.Value)
	case ErrKindInvalidValue:
		return fmt.Sprintf("invalid value '%s'", e.Value)
	case ErrKindInvalidDriveNumber:
		return fmt.Sprintf("invalid drive number '%s'", e.Value)
	case ErrKindMissingArgument:
		return e.Message
	default:
		return fmt.Sprintf("parse error: %s", e.Value)
	}
}

func parseErr(kind ParseErrorKind, value string) error {
	return &ParseError{Kind: kind, Value: value}
}

func missingArg(format string, args ...any) error {
	return &ParseError{Kind: ErrKindMissingArgument, Message: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a wire line the decoder could not classify: a
// prefix other than OK:, ERR: or EVENT:, or an event it does not know.
// It is never fatal to a connection.
type ProtocolError struct {
	Line   string
	Reason string
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %q", e.Reason, e.Line)
}

// ServerError is an ERR: response surfaced as a Go error, for callers that
// prefer an error return over inspecting Response.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// ConnectionError represents a transport failure.
type ConnectionError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connection failed: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) error {
	return &ConnectionError{Message: message, Cause: cause}
}

// IsConnectionError reports whether err is a transport-level failure,
// including the liveness and not-connected conditions.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) ||
		errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionLost)
}

// isExpectedClose reports whether err is a normal termination of the
// stream: EOF, closed connection, broken pipe, or connection reset.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
