// Package mcpclient is a client for JSON-RPC 2.0 peers that speak over a
// child process's standard input and output, such as Model Context Protocol
// (MCP) servers.
//
// The client spawns the peer, frames messages (newline-delimited JSON by
// default, or Content-Length headers), and matches responses to the calls
// that are waiting for them. Any number of calls may be in flight at once.
//
// # Basic Usage
//
//	ctx := context.Background()
//	c, err := mcpclient.NewStdioClient(ctx, []string{"my-server", "--stdio"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	if _, err := c.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	tools, err := c.ListAllTools(ctx)
//
// Any method can be called directly, with the result decoded into a value
// of your choosing:
//
//	var out map[string]any
//	err := c.Call(ctx, "tools/list", nil, &out, mcpclient.WithTimeout(10*time.Second))
//
// or with the generic helper:
//
//	res, err := mcpclient.Call[*mcp.ListToolsResult](ctx, c, "tools/list", nil)
//
// # Lifecycle
//
// WithClient spawns, initializes, and closes a session around a callback.
// Close closes the peer's stdin, gives it the shutdown grace period to exit
// (WithShutdownGrace), kills it otherwise, and fails every call still waiting
// with ErrConnectionClosed. If the peer dies first, waiting calls fail with
// ErrConnectionClosed wrapping the cause, and Done is closed.
//
// # Logging
//
// For detailed operation tracking, use WithLogger:
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
//	c, err := mcpclient.NewStdioClient(ctx, cmd, mcpclient.WithLogger(logger))
//
// # Error Handling
//
// The client provides typed errors for different failure scenarios:
//
//	err := c.Call(ctx, "tools/call", params, &out)
//	if rpcErr, ok := errors.AsType[*mcpclient.RPCError](err); ok {
//	    log.Printf("peer error %d: %s", rpcErr.Code, rpcErr.Message)
//	}
//	if errors.Is(err, mcpclient.ErrRequestTimeout) {
//	    // ...
//	}
//	if procErr, ok := errors.AsType[*mcpclient.ProcessError](err); ok {
//	    log.Printf("peer exited %d: %s", procErr.ExitCode, procErr.Stderr)
//	}
//
// # Telemetry
//
// Every call produces an OpenTelemetry span and request metrics. Use
// WithTracerProvider and WithMeterProvider to route them; otherwise the
// global providers are used.
package mcpclient
