package mcpclient

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcp-client-go/internal/client"
)

// clientWrapper wraps the internal client to adapt it to the public interface.
type clientWrapper struct {
	impl    *client.Client
	options *Options
	log     *slog.Logger

	mu         sync.Mutex
	initResult *mcp.InitializeResult
	schemas    map[string]*jsonschema.Resolved
}

// Compile-time check that *clientWrapper implements the Client interface.
var _ Client = (*clientWrapper)(nil)

func newClientWrapper(impl *client.Client, options *Options) *clientWrapper {
	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	return &clientWrapper{
		impl:    impl,
		options: options,
		log:     log.With("component", "mcpclient"),
		schemas: make(map[string]*jsonschema.Resolved),
	}
}

// Call sends a request and decodes the result.
func (c *clientWrapper) Call(ctx context.Context, method string, params, result any, opts ...CallOption) error {
	co := applyCallOptions(opts)

	return c.impl.Call(ctx, method, params, result, co.effectiveTimeout())
}

// Notify sends a notification.
func (c *clientWrapper) Notify(ctx context.Context, method string, params any) error {
	return c.impl.Notify(ctx, method, params)
}

// OnNotification registers a handler for one notification method.
func (c *clientWrapper) OnNotification(method string, handler NotificationHandler) {
	c.impl.OnNotification(method, handler)
}

// OnAnyNotification registers a handler for every notification.
func (c *clientWrapper) OnAnyNotification(handler NotificationHandler) {
	c.impl.OnAnyNotification(handler)
}

// HandleRequest registers a peer request handler.
func (c *clientWrapper) HandleRequest(method string, handler RequestHandler) {
	c.impl.HandleRequest(method, handler)
}

// State reports the session state.
func (c *clientWrapper) State() State {
	return c.impl.State()
}

// Done is closed when the connection ends.
func (c *clientWrapper) Done() <-chan struct{} {
	return c.impl.Done()
}

// Err returns the error that ended the connection.
func (c *clientWrapper) Err() error {
	return c.impl.Err()
}

// Close shuts the session down.
func (c *clientWrapper) Close() error {
	return c.impl.Close()
}
