package errors

import (
	"errors"
	"fmt"
	"strings"
)

// MCPClientError is the base interface for all client errors.
type MCPClientError interface {
	error
	IsMCPClientError() bool
}

// Compile-time verification that all error types implement MCPClientError.
var (
	_ MCPClientError = (*SpawnError)(nil)
	_ MCPClientError = (*CommandNotFoundError)(nil)
	_ MCPClientError = (*TransportError)(nil)
	_ MCPClientError = (*ProcessError)(nil)
	_ MCPClientError = (*ProtocolError)(nil)
	_ MCPClientError = (*RPCError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSpawn matches every failure to launch the peer process.
	ErrSpawn = errors.New("spawn failed")

	// ErrNoCommand indicates an empty command line was supplied.
	ErrNoCommand = errors.New("no command given")

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed: clients are single-use, create a new one")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrStdinClosed indicates the peer's stdin has already been closed.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrEndOfStream indicates the peer closed its stdout.
	ErrEndOfStream = errors.New("end of stream")

	// ErrConnectionClosed indicates the session ended before a response arrived.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrDuplicateRequestID indicates an id was registered while already pending.
	ErrDuplicateRequestID = errors.New("duplicate request id")

	// ErrFrameTooLarge indicates an incoming frame exceeded the size limit.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrInvalidToolArguments indicates tool arguments failed schema validation.
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
)

// SpawnError indicates the peer process could not be launched.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// IsMCPClientError implements MCPClientError.
func (e *SpawnError) IsMCPClientError() bool { return true }

// CommandNotFoundError indicates the peer executable could not be located.
type CommandNotFoundError struct {
	Command       string
	SearchedPaths []string
}

func (e *CommandNotFoundError) Error() string {
	return fmt.Sprintf("command %q not found in: %s", e.Command, strings.Join(e.SearchedPaths, ", "))
}

func (e *CommandNotFoundError) Unwrap() error {
	return ErrSpawn
}

// IsMCPClientError implements MCPClientError.
func (e *CommandNotFoundError) IsMCPClientError() bool { return true }

// TransportError indicates reading from or writing to the peer failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsMCPClientError implements MCPClientError.
func (e *TransportError) IsMCPClientError() bool { return true }

// ProcessError indicates the peer process exited unsuccessfully.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peer process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("peer process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsMCPClientError implements MCPClientError.
func (e *ProcessError) IsMCPClientError() bool { return true }

// ProtocolError indicates a message did not have the expected shape.
// Raw preserves the offending frame when one is available.
type ProtocolError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}

	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsMCPClientError implements MCPClientError.
func (e *ProtocolError) IsMCPClientError() bool { return true }

// RPCError is an error response returned by the peer.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsMCPClientError implements MCPClientError.
func (e *RPCError) IsMCPClientError() bool { return true }
