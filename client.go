package mcpclient

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcp-client-go/internal/client"
	"github.com/wagiedev/mcp-client-go/internal/protocol"
)

// State is the lifecycle stage of a session.
type State = client.State

// Session states.
const (
	StateConnecting = client.StateConnecting
	StateReady      = client.StateReady
	StateClosing    = client.StateClosing
	StateClosed     = client.StateClosed
)

// NotificationHandler observes a notification from the peer. Handlers run on
// the reader goroutine and must not block.
type NotificationHandler = protocol.NotificationHandler

// RequestHandler answers a request initiated by the peer. Return an *RPCError
// to control the error code sent back.
type RequestHandler = protocol.RequestHandler

// Client is a JSON-RPC session with one peer process.
//
// Calls may be issued concurrently from any goroutine; responses are matched
// to callers by request id regardless of the order the peer answers in.
//
// Lifecycle: Clients are single-use. After Close(), create a new client.
//
// Example usage:
//
//	c, err := mcpclient.NewStdioClient(ctx, []string{"my-server", "--stdio"},
//	    mcpclient.WithLogger(slog.Default()),
//	    mcpclient.WithRequestTimeout(30*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	tools, err := c.ListTools(ctx, nil)
type Client interface {
	// Call sends a request and decodes its result into result, which may be
	// nil to discard it. Returns *RPCError when the peer answers with an
	// error, ErrRequestTimeout, ctx.Err(), or ErrConnectionClosed.
	Call(ctx context.Context, method string, params, result any, opts ...CallOption) error

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error

	// OnNotification registers a handler for one notification method.
	OnNotification(method string, handler NotificationHandler)

	// OnAnyNotification registers a handler that sees every notification.
	OnAnyNotification(handler NotificationHandler)

	// HandleRequest answers peer requests for method. Peer requests with no
	// handler get a method-not-found error.
	HandleRequest(method string, handler RequestHandler)

	// Initialize performs the MCP handshake: the initialize request followed
	// by the initialized notification.
	Initialize(ctx context.Context) (*mcp.InitializeResult, error)

	// InitializeResult returns the cached handshake result, or nil.
	InitializeResult() *mcp.InitializeResult

	// ListTools requests one page of tools. Nil params sends no params.
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)

	// ListAllTools follows pagination cursors and returns every tool.
	ListAllTools(ctx context.Context) ([]*mcp.Tool, error)

	// CallTool invokes a tool. A tool-level failure is reported through
	// CallToolResult.IsError, not as an error.
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)

	// ListResources requests one page of resources.
	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)

	// ReadResource reads a resource by URI.
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)

	// ListPrompts requests one page of prompts.
	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)

	// GetPrompt renders a prompt with arguments.
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)

	// Ping checks that the peer is responsive.
	Ping(ctx context.Context) error

	// SetLoggingLevel asks the peer to send log messages at level and above.
	SetLoggingLevel(ctx context.Context, level mcp.LoggingLevel) error

	// OnLogMessage receives notifications/message.
	OnLogMessage(handler func(ctx context.Context, params *mcp.LoggingMessageParams))

	// OnProgress receives notifications/progress.
	OnProgress(handler func(ctx context.Context, params *mcp.ProgressNotificationParams))

	// OnToolsListChanged receives notifications/tools/list_changed.
	OnToolsListChanged(handler func(ctx context.Context))

	// State reports the session state.
	State() State

	// Done is closed once the connection can no longer deliver responses.
	Done() <-chan struct{}

	// Err returns the error that ended the connection, if any.
	Err() error

	// Close shuts the peer down gracefully and fails calls still waiting.
	// Safe to call multiple times.
	Close() error
}

// NewStdioClient spawns command[0] with the remaining elements as arguments
// and returns a ready session speaking JSON-RPC over its stdin and stdout.
//
// The context only bounds startup. Returns ErrNoCommand for an empty
// command, CommandNotFoundError if the executable cannot be located, or
// SpawnError if the process fails to start.
func NewStdioClient(ctx context.Context, command []string, opts ...Option) (Client, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, ErrNoCommand
	}

	options := applyOptions(opts)
	options.Command = command[0]
	options.Args = command[1:]

	return start(ctx, options)
}

// NewClient returns a ready session over transport.
func NewClient(ctx context.Context, transport Transport, opts ...Option) (Client, error) {
	options := applyOptions(opts)
	options.Transport = transport

	return start(ctx, options)
}

func start(ctx context.Context, options *Options) (Client, error) {
	impl := client.New()
	if err := impl.Start(ctx, options); err != nil {
		return nil, err
	}

	return newClientWrapper(impl, options), nil
}

// Call is the typed form of Client.Call.
//
//	result, err := mcpclient.Call[*mcp.ListToolsResult](ctx, c, "tools/list", nil)
func Call[R any](ctx context.Context, c Client, method string, params any, opts ...CallOption) (R, error) {
	var result R

	err := c.Call(ctx, method, params, &result, opts...)

	return result, err
}

// RawResult keeps a result undecoded.
type RawResult = json.RawMessage
