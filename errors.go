package mcpclient

import "github.com/wagiedev/mcp-client-go/internal/errors"

// Re-export error types from internal package

// SpawnError indicates the peer process could not be launched.
type SpawnError = errors.SpawnError

// CommandNotFoundError indicates the peer executable was not found.
type CommandNotFoundError = errors.CommandNotFoundError

// TransportError indicates reading from or writing to the peer failed.
type TransportError = errors.TransportError

// ProcessError indicates the peer process exited unsuccessfully.
type ProcessError = errors.ProcessError

// ProtocolError indicates a message did not have the expected shape.
type ProtocolError = errors.ProtocolError

// RPCError is an error response from the peer.
type RPCError = errors.RPCError

// MCPClientError is the base interface for all client errors.
type MCPClientError = errors.MCPClientError

// Re-export sentinel errors from internal package.
var (
	// ErrSpawn matches every failure to launch the peer.
	ErrSpawn = errors.ErrSpawn

	// ErrNoCommand indicates an empty command line.
	ErrNoCommand = errors.ErrNoCommand

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.ErrClientClosed

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrStdinClosed indicates the peer's stdin was already closed.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrEndOfStream indicates the peer closed its output.
	ErrEndOfStream = errors.ErrEndOfStream

	// ErrConnectionClosed indicates the session ended before a response arrived.
	ErrConnectionClosed = errors.ErrConnectionClosed

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrDuplicateRequestID indicates an id was reused while still pending.
	// The session treats it as fatal.
	ErrDuplicateRequestID = errors.ErrDuplicateRequestID

	// ErrFrameTooLarge indicates an incoming message exceeded WithMaxMessageSize.
	ErrFrameTooLarge = errors.ErrFrameTooLarge

	// ErrInvalidToolArguments indicates CallTool arguments failed schema validation.
	ErrInvalidToolArguments = errors.ErrInvalidToolArguments
)
